package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
	Timeout   time.Duration
}

// Anthropic implements Analyzer over the Anthropic Messages API.
type Anthropic struct {
	cfg    AnthropicConfig
	client *http.Client
}

// NewAnthropic creates an Anthropic analyzer.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

// Name implements Analyzer.
func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int64              `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Analyze implements Analyzer.
func (a *Anthropic) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.client.Timeout)
	defer cancel()

	req := anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      instruction,
		Messages:    []anthropicMessage{{Role: "user", Content: userMessage(transcript)}},
		Temperature: Temperature,
		TopP:        TopP,
	}
	headers := map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, a.client, a.Name(), a.cfg.BaseURL+"/v1/messages", headers, req, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseJSON(text.String())
}
