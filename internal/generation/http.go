package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// HTTPConfig configures the JSON generation sidecar. When TokenURL is set,
// calls carry an OAuth2 client-credentials token.
type HTTPConfig struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPGenerator is an HTTP implementation of the Generator interface that
// calls a sidecar service.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

type generateRequest struct {
	Role   string `json:"role"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// NewHTTPGenerator creates a new HTTPGenerator.
func NewHTTPGenerator(cfg HTTPConfig) *HTTPGenerator {
	client := http.DefaultClient
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(context.Background())
	}
	return &HTTPGenerator{url: strings.TrimRight(cfg.URL, "/"), client: client}
}

// Generate posts the role and prompt to the sidecar's /generate endpoint.
func (c *HTTPGenerator) Generate(ctx context.Context, role, prompt string) (Generation, error) {
	start := time.Now()
	requestBody, err := json.Marshal(generateRequest{Role: role, System: SystemPromptFor(role), Prompt: prompt})
	if err != nil {
		return Generation{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/generate", bytes.NewBuffer(requestBody))
	if err != nil {
		return Generation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Generation{Elapsed: time.Since(start)}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Generation{Elapsed: time.Since(start)}, fmt.Errorf("failed to generate: status code %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Generation{Elapsed: time.Since(start)}, fmt.Errorf("failed to decode response body: %w", err)
	}
	return finish(out.Text, start)
}
