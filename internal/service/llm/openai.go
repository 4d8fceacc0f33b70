package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
	Timeout   time.Duration
}

// OpenAI implements Analyzer over any OpenAI-compatible chat completions
// API (OpenAI itself, or a local Ollama server).
type OpenAI struct {
	name    string
	cfg     OpenAIConfig
	client  openai.Client
	timeout time.Duration
}

// NewOpenAI creates an analyzer reported under name.
func NewOpenAI(name string, cfg OpenAIConfig) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	)
	return &OpenAI{name: name, cfg: cfg, client: client, timeout: timeout}
}

// Name implements Analyzer.
func (o *OpenAI) Name() string { return o.name }

// Analyze implements Analyzer.
func (o *OpenAI) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(userMessage(transcript)),
		},
		Temperature: openai.Float(Temperature),
		TopP:        openai.Float(TopP),
		MaxTokens:   openai.Int(o.cfg.MaxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, providerError(o.name, apiErr.StatusCode, err)
		}
		return nil, providerError(o.name, 0, err)
	}

	if len(resp.Choices) == 0 {
		return nil, providerError(o.name, http.StatusOK, errors.New("no choices in response"))
	}
	return ParseJSON(resp.Choices[0].Message.Content)
}
