package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // optional proxy or compatible endpoint
	Model     string
	MaxTokens int64
}

// OpenAIGenerator generates text with the chat completions API.
type OpenAIGenerator struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
}

// NewOpenAIGenerator creates an OpenAIGenerator.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIGenerator{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate sends the role's system prompt and the user prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, role, prompt string) (Generation, error) {
	start := time.Now()
	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPromptFor(role)),
			openai.UserMessage(prompt),
		},
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(g.maxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Generation{Elapsed: time.Since(start)}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Generation{Elapsed: time.Since(start)}, ErrEmptyOutput
	}
	return finish(resp.Choices[0].Message.Content, start)
}
