package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"nexus/backend/pkg/models"
)

// ErrLegacyResult is returned by read paths that encounter a result payload
// that has not been normalized yet.
var ErrLegacyResult = errors.New("legacy result payload, run normalize")

// legacyEntry accepts every field name older writers used for a result entry.
type legacyEntry struct {
	AgentName *string  `json:"agent_name"`
	Role      *string  `json:"role"`
	Task      string   `json:"task"`
	Status    string   `json:"status"`
	Content   string   `json:"content"`
	Duration  *float64 `json:"duration"`
	Error     string   `json:"error"`
}

// legacyEnvelope is the full response object older writers stored in the
// result column instead of the bare result array.
type legacyEnvelope struct {
	Results   []legacyEntry `json:"results"`
	TotalTime *float64      `json:"total_time"`
}

// Normalized is the canonical form of a stored result payload.
type Normalized struct {
	Results []models.AgentResult
	// TotalTime is set when the legacy payload carried it.
	TotalTime *float64
	// Changed reports whether the input differed from the canonical encoding.
	Changed bool
}

// NormalizeResults converts any known result payload shape into the
// canonical ordered sequence of AgentResult.
func NormalizeResults(raw []byte) (Normalized, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Normalized{Results: []models.AgentResult{}, Changed: true}, nil
	}

	var (
		entries []legacyEntry
		out     Normalized
	)
	switch trimmed[0] {
	case '{':
		var env legacyEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Normalized{}, fmt.Errorf("decode legacy envelope: %w", err)
		}
		entries = env.Results
		out.TotalTime = env.TotalTime
		out.Changed = true
	case '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return Normalized{}, fmt.Errorf("decode result array: %w", err)
		}
	default:
		return Normalized{}, fmt.Errorf("unrecognized result payload starting with %q", trimmed[0])
	}

	out.Results = make([]models.AgentResult, 0, len(entries))
	for _, e := range entries {
		r, changed := e.canonical()
		out.Results = append(out.Results, r)
		out.Changed = out.Changed || changed
	}
	return out, nil
}

func (e legacyEntry) canonical() (models.AgentResult, bool) {
	changed := false
	r := models.AgentResult{
		Task:    e.Task,
		Status:  models.AgentStatus(e.Status),
		Content: e.Content,
		Error:   e.Error,
	}

	switch {
	case e.AgentName != nil:
		r.Role = *e.AgentName
	case e.Role != nil:
		r.Role = *e.Role
		changed = true
	default:
		r.Role = models.RoleAssistant
		changed = true
	}

	if r.Status != models.AgentStatusCompleted && r.Status != models.AgentStatusFailed {
		r.Status = models.AgentStatusCompleted
		if r.Error != "" {
			r.Status = models.AgentStatusFailed
		}
		changed = true
	}

	if e.Duration != nil && *e.Duration > 0 {
		r.Duration = *e.Duration
	} else if e.Duration == nil || *e.Duration < 0 {
		changed = true
	}
	if r.Failed() && r.Duration != 0 {
		r.Duration = 0
		changed = true
	}
	return r, changed
}

// encodeResults produces the canonical stored encoding.
func encodeResults(results []models.AgentResult) ([]byte, error) {
	if results == nil {
		results = []models.AgentResult{}
	}
	return json.Marshal(results)
}

// decodeResults reads a canonical payload. Legacy payloads are rejected so no
// read site ever branches on shape.
func decodeResults(raw []byte) ([]models.AgentResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] != '[' {
		return nil, ErrLegacyResult
	}
	results := []models.AgentResult{}
	if len(trimmed) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(trimmed, &results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return results, nil
}
