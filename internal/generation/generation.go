// Package generation provides the text-generation capability the workflow
// agents run against. Each provider turns a role and a prompt into text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexus/backend/internal/config"
	"nexus/backend/pkg/models"
)

// ErrEmptyOutput is returned when a provider answers without any text.
var ErrEmptyOutput = errors.New("generation returned no text")

// Generation is the output of one call.
type Generation struct {
	Text    string
	Elapsed time.Duration
}

// Generator produces text for a role.
type Generator interface {
	Generate(ctx context.Context, role, prompt string) (Generation, error)
}

var systemPrompts = map[string]string{
	models.RoleMarketResearcher:  "You are a seasoned market researcher. List three key market facts about the subject, briefly and objectively.",
	models.RoleTechnicalAnalyst:  "You are a hardcore technical analyst. Identify the single hardest technical problem behind the subject, using precise terminology.",
	models.RoleCompetitorAnalyst: "You are a blunt industry critic. Name the subject's strongest competitor and explain why in a few sentences.",
	models.RolePlanner:           "You are a planning assistant that follows output formats exactly and answers only with JSON.",
}

const defaultSystemPrompt = "You are a helpful assistant. Answer briefly."

// SystemPromptFor returns the system prompt used for role. Unknown roles get
// the general assistant prompt.
func SystemPromptFor(role string) string {
	if p, ok := systemPrompts[strings.ToLower(strings.TrimSpace(role))]; ok {
		return p
	}
	return defaultSystemPrompt
}

// New builds the generator selected by generation.provider.
func New(cfg *config.Config) (Generator, error) {
	g := cfg.Generation
	switch g.Provider {
	case "mock":
		return NewMockGenerator(g.MockDelay), nil
	case "anthropic":
		return NewAnthropicGenerator(AnthropicConfig{
			APIKey:    g.APIKey,
			BaseURL:   g.BaseURL,
			Model:     g.Model,
			MaxTokens: g.MaxTokens,
		}), nil
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:    g.APIKey,
			BaseURL:   g.BaseURL,
			Model:     g.Model,
			MaxTokens: g.MaxTokens,
		}), nil
	case "http":
		return NewHTTPGenerator(HTTPConfig{
			URL:          g.Sidecar.URL,
			TokenURL:     g.Sidecar.TokenURL,
			ClientID:     g.Sidecar.ClientID,
			ClientSecret: g.Sidecar.ClientSecret,
			Scopes:       g.Sidecar.Scopes,
		}), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", g.Provider)
	}
}

func finish(text string, start time.Time) (Generation, error) {
	text = strings.TrimSpace(text)
	elapsed := time.Since(start)
	if text == "" {
		return Generation{Elapsed: elapsed}, ErrEmptyOutput
	}
	return Generation{Text: text, Elapsed: elapsed}, nil
}
