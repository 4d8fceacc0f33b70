// Package whisper provides an STT engine backed by a local whisper.cpp server.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/service/stt"
)

const engineName = "whisper"

// Config holds whisper server settings.
type Config struct {
	BaseURL   string        // e.g. http://127.0.0.1:8178
	ModelPath string        // optional model to load through /load before first use
	Language  string        // ISO 639-1 code, "auto" to detect
	Timeout   time.Duration // per-request timeout
}

// Engine implements stt.Engine against the whisper.cpp HTTP server.
type Engine struct {
	cfg    Config
	client *http.Client
	ready  *stt.Lazy[struct{}]
}

// New creates a whisper engine. The server is checked (and the model
// loaded when ModelPath is set) on first use.
func New(cfg Config) *Engine {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	e := &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	e.ready = stt.NewLazy(e.warmup)
	return e
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return engineName }

func (e *Engine) warmup(ctx context.Context) (struct{}, error) {
	if e.cfg.ModelPath == "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/", nil)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("whisper server unreachable: %w", err)
		}
		resp.Body.Close()
		return struct{}{}, nil
	}

	start := time.Now()
	body, contentType, err := multipartBody(nil, map[string]string{"model": e.cfg.ModelPath})
	if err != nil {
		return struct{}{}, err
	}
	if _, err := e.post(ctx, "/load", body, contentType); err != nil {
		return struct{}{}, fmt.Errorf("load model %s: %w", e.cfg.ModelPath, err)
	}
	log.Info().
		Str("model", e.cfg.ModelPath).
		Dur("took", time.Since(start)).
		Msg("Whisper model loaded")
	return struct{}{}, nil
}

type inferenceResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}
	defer f.Close()

	if _, err := e.ready.Get(ctx); err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	body, contentType, err := multipartBody(&filePart{name: filepath.Base(audioPath), r: f}, map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
		"language":        e.cfg.Language,
	})
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	raw, err := e.post(ctx, "/inference", body, contentType)
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, stt.NewError(engineName, audioPath, fmt.Errorf("decode response: %w", err))
	}
	return models.NewTranscript(toSegments(out)), nil
}

// toSegments converts server segments to millisecond offsets. A response
// without segments but with text becomes one untimed segment.
func toSegments(r inferenceResponse) []models.SegmentInput {
	segs := make([]models.SegmentInput, 0, len(r.Segments))
	var prevStart int64
	for _, s := range r.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := secondsToMs(s.Start)
		if start < prevStart {
			start = prevStart
		}
		end := secondsToMs(s.End)
		if end < start {
			end = start
		}
		segs = append(segs, models.SegmentInput{
			Speaker: models.SpeakerUnknown,
			Text:    text,
			StartMs: models.Int64(start),
			EndMs:   models.Int64(end),
		})
		prevStart = start
	}
	if len(segs) == 0 {
		if text := strings.TrimSpace(r.Text); text != "" {
			segs = append(segs, models.SegmentInput{Speaker: models.SpeakerUnknown, Text: text})
		}
	}
	return segs
}

func secondsToMs(s float64) int64 {
	return int64(s*1000 + 0.5)
}

type filePart struct {
	name string
	r    io.Reader
}

func multipartBody(file *filePart, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := w.CreateFormFile("file", file.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(fw, file.r); err != nil {
			return nil, "", fmt.Errorf("read audio: %w", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (e *Engine) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("whisper %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
