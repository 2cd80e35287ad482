package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nexus/backend/internal/generation"
	"nexus/backend/pkg/models"
)

const (
	defaultMaxTasks    = 5
	defaultPlanTimeout = 30 * time.Second
	plannedTaskCount   = 3
)

// PlannerOptions tunes a Planner.
type PlannerOptions struct {
	MaxTasks int
	Timeout  time.Duration
	Cache    PlanCache // optional
	Logger   Logger
}

// Planner turns a topic into an ordered task list. Planning never fails: any
// problem with the generation call or its output yields the single-task
// fallback plan.
type Planner struct {
	gen      generation.Generator
	maxTasks int
	timeout  time.Duration
	cache    PlanCache
	logger   Logger
}

// NewPlanner creates a Planner.
func NewPlanner(gen generation.Generator, opts PlannerOptions) *Planner {
	p := &Planner{
		gen:      gen,
		maxTasks: opts.MaxTasks,
		timeout:  opts.Timeout,
		cache:    opts.Cache,
		logger:   orNop(opts.Logger),
	}
	if p.maxTasks <= 0 {
		p.maxTasks = defaultMaxTasks
	}
	if p.timeout <= 0 {
		p.timeout = defaultPlanTimeout
	}
	return p
}

// FallbackPlan is the plan used when a topic cannot be split.
func FallbackPlan(topic string) []models.Task {
	return []models.Task{{Role: models.RoleAssistant, Description: topic}}
}

// Plan returns a non-empty task list for topic.
func (p *Planner) Plan(ctx context.Context, topic string) []models.Task {
	topic = strings.TrimSpace(topic)

	if p.cache != nil {
		tasks, ok, err := p.cache.Get(ctx, topic)
		if err != nil {
			p.logger.Warn("plan cache lookup failed", "error", err)
		} else if ok && len(tasks) > 0 {
			p.logger.Debug("plan cache hit", "topic", topic, "tasks", len(tasks))
			return tasks
		}
	}

	planCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.gen.Generate(planCtx, models.RolePlanner, plannerPrompt(topic, min(plannedTaskCount, p.maxTasks)))
	if err != nil {
		p.logger.Warn("planning call failed, using fallback plan", "topic", topic, "error", err)
		return FallbackPlan(topic)
	}

	tasks := ParsePlan(out.Text, p.maxTasks)
	if len(tasks) == 0 {
		p.logger.Warn("planning output unusable, using fallback plan", "topic", topic)
		return FallbackPlan(topic)
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, topic, tasks); err != nil {
			p.logger.Warn("plan cache store failed", "error", err)
		}
	}
	return tasks
}

func plannerPrompt(topic string, n int) string {
	return fmt.Sprintf(`You are the task planner of the Nexus system.
The user submitted the topic: %q
Split it into %d concrete subtasks and give each one a suitable role name.

Reply with a JSON array of strings and nothing else, each formatted "Role:task".
Example: ["market researcher:estimate the market size", "technical analyst:assess the core barriers", "competitor analyst:list the main rivals"]`, topic, n)
}

// ParsePlan extracts tasks from a planner reply. It reads the first bracketed
// JSON array in text that yields a usable task; elements may be "role:task"
// strings or {"role","task"} objects. Prose around the array, including
// bracketed notes such as "[Plan]" or "[1]", is skipped. Entries without a
// role become assistant tasks, blank entries are dropped, and at most
// maxTasks are returned.
func ParsePlan(text string, maxTasks int) []models.Task {
	for i := 0; i < len(text); i++ {
		next := strings.IndexByte(text[i:], '[')
		if next < 0 {
			return nil
		}
		i += next

		var entries []json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&entries); err != nil {
			continue
		}
		if tasks := planTasks(entries, maxTasks); len(tasks) > 0 {
			return tasks
		}
	}
	return nil
}

func planTasks(entries []json.RawMessage, maxTasks int) []models.Task {
	var tasks []models.Task
	for _, raw := range entries {
		task, ok := parseEntry(raw)
		if !ok {
			continue
		}
		tasks = append(tasks, task)
		if maxTasks > 0 && len(tasks) == maxTasks {
			break
		}
	}
	return tasks
}

func parseEntry(raw json.RawMessage) (models.Task, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return splitEntry(s)
	}

	var obj struct {
		Role        string `json:"role"`
		Task        string `json:"task"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.Task{}, false
	}
	desc := strings.TrimSpace(obj.Task)
	if desc == "" {
		desc = strings.TrimSpace(obj.Description)
	}
	if desc == "" {
		return models.Task{}, false
	}
	role := strings.TrimSpace(obj.Role)
	if role == "" {
		role = models.RoleAssistant
	}
	return models.Task{Role: role, Description: desc}, true
}

// splitEntry splits "role:task" on the first ASCII or full-width colon.
func splitEntry(entry string) (models.Task, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return models.Task{}, false
	}

	idx, width := -1, 0
	if i := strings.Index(entry, ":"); i >= 0 {
		idx, width = i, 1
	}
	if i := strings.Index(entry, "："); i >= 0 && (idx < 0 || i < idx) {
		idx, width = i, len("：")
	}
	if idx < 0 {
		return models.Task{Role: models.RoleAssistant, Description: entry}, true
	}

	role := strings.TrimSpace(entry[:idx])
	desc := strings.TrimSpace(entry[idx+width:])
	if desc == "" {
		return models.Task{}, false
	}
	if role == "" {
		role = models.RoleAssistant
	}
	return models.Task{Role: role, Description: desc}, true
}
