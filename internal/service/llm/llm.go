// Package llm sends transcripts to a language model and decodes the
// structured JSON it returns.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/config"
	"call-monitoring-service/internal/observability/metrics"
)

// Sampling settings shared by every provider.
const (
	Temperature = 0.2
	TopP        = 0.9
)

// Analyzer runs one instruction over one transcript.
type Analyzer interface {
	// Analyze returns the model's JSON object. Failures are *ProviderError
	// or *ParseError.
	Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error)
	Name() string
}

// ProviderError reports a transport failure, non-2xx status or timeout.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when no response was received
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("llm provider %s timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("llm provider %s returned %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError reports model output that is not a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm output is not a JSON object: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// providerError classifies err for provider, marking deadline and network timeouts.
func providerError(provider string, status int, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, StatusCode: status, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		pe.Timeout = true
	}
	return pe
}

// ParseJSON extracts the first markdown fenced block (``` or ```json) from
// text when there is one and decodes it as a JSON object. Text around the
// fence is ignored.
func ParseJSON(text string) (map[string]any, error) {
	body := StripFences(text)
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}
	if out == nil {
		return nil, &ParseError{Raw: text, Err: errors.New("null")}
	}
	return out, nil
}

const fence = "```"

// StripFences returns the contents of the first fenced block in text,
// without its language tag. Text that starts with a JSON object or has no
// fence is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "{") {
		return s
	}
	open := strings.Index(s, fence)
	if open < 0 {
		return s
	}

	body := s[open+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(body[:nl]) {
		body = body[nl+1:]
	} else {
		body = strings.TrimLeftFunc(body, isASCIILetter)
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(line string) bool {
	return strings.TrimLeftFunc(strings.TrimSpace(line), isASCIILetter) == ""
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// userMessage is the user turn for providers with a system role.
func userMessage(transcript string) string {
	return "Transcript:\n" + transcript
}

// combinedMessage is the single user turn for providers without a system role.
func combinedMessage(instruction, transcript string) string {
	return instruction + "\n\n---\n\nTranscript:\n" + transcript
}

// New builds the analyzer named by cfg.Provider. An unknown provider id
// resolves to cfg.FallbackProvider.
func New(cfg config.LLMConfig) (Analyzer, error) {
	a, err := build(cfg.Provider, cfg)
	if err == nil {
		return instrument(a), nil
	}

	log.Warn().
		Str("provider", cfg.Provider).
		Str("fallback", cfg.FallbackProvider).
		Msg("Unknown LLM provider, using fallback")
	a, ferr := build(cfg.FallbackProvider, cfg)
	if ferr != nil {
		return nil, fmt.Errorf("llm provider %q: %w", cfg.Provider, errors.Join(err, ferr))
	}
	return instrument(a), nil
}

func build(id string, cfg config.LLMConfig) (Analyzer, error) {
	switch strings.ToLower(id) {
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			BaseURL:   cfg.GeminiBaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			BaseURL:   cfg.AnthropicBaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	case "openai":
		return NewOpenAI("openai", OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			BaseURL:   cfg.OpenAIBaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	case "ollama":
		return NewOpenAI("ollama", OpenAIConfig{
			APIKey:    "ollama",
			Model:     cfg.OllamaModel,
			BaseURL:   cfg.OllamaBaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", id)
	}
}

type instrumented struct {
	Analyzer
	metrics *metrics.Metrics
}

func instrument(a Analyzer) Analyzer {
	return &instrumented{Analyzer: a, metrics: metrics.DefaultMetrics}
}

func (i *instrumented) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	start := time.Now()
	out, err := i.Analyzer.Analyze(ctx, transcript, instruction)
	i.metrics.RecordLLM(i.Name(), errorType(err), time.Since(start).Seconds())
	return out, err
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Timeout {
			return "timeout"
		}
		return "provider"
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	return "other"
}
