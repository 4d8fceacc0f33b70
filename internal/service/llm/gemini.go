package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// GeminiConfig configures the Gemini generateContent client.
type GeminiConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
	Timeout   time.Duration
}

// Gemini implements Analyzer over the Gemini REST API.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini creates a Gemini analyzer.
func NewGemini(cfg GeminiConfig) *Gemini {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Gemini{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

// Name implements Analyzer.
func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	MaxOutputTokens  int64   `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// supportsSystemRole reports whether the model accepts systemInstruction.
// Gemma models served through the same API reject it.
func (g *Gemini) supportsSystemRole() bool {
	return !strings.HasPrefix(g.cfg.Model, "gemma")
}

// Analyze implements Analyzer.
func (g *Gemini) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.client.Timeout)
	defer cancel()

	req := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     Temperature,
			TopP:            TopP,
			MaxOutputTokens: g.cfg.MaxTokens,
		},
	}
	if g.supportsSystemRole() {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: instruction}}}
		req.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userMessage(transcript)}}}}
		req.GenerationConfig.ResponseMIMEType = "application/json"
	} else {
		req.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: combinedMessage(instruction, transcript)}}}}
	}

	url := g.cfg.BaseURL + "/v1beta/models/" + g.cfg.Model + ":generateContent"
	var resp geminiResponse
	if err := postJSON(ctx, g.client, g.Name(), url, map[string]string{"x-goog-api-key": g.cfg.APIKey}, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, providerError(g.Name(), http.StatusOK, errors.New("no candidates in response"))
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return ParseJSON(text.String())
}
