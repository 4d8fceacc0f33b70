// Package mock provides a deterministic STT engine for running the service
// without a speech backend. Every transcription returns the same canned
// utterances, spaced evenly in time.
package mock

import (
	"context"
	"fmt"
	"os"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/service/stt"
)

// DefaultUtterances are the lines returned for every audio file.
var DefaultUtterances = []string{
	"Thank you for calling support, how can I help you today?",
	"I want to cancel my subscription",
	"I can help with that. Can I ask why you'd like to cancel?",
	"I've been waiting for over an hour and nobody fixed my account",
	"I'm sorry about that. I've applied a credit and escalated the account issue.",
	"Thank you very much",
}

// UtteranceSpacingMs is the duration assigned to each canned utterance.
const UtteranceSpacingMs int64 = 2000

// Engine implements stt.Engine with canned output.
type Engine struct {
	utterances []string
}

// New creates a mock engine returning DefaultUtterances.
func New() *Engine {
	return &Engine{utterances: DefaultUtterances}
}

// NewWithUtterances creates a mock engine returning the given lines.
func NewWithUtterances(lines []string) *Engine {
	return &Engine{utterances: lines}
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "mock" }

// Transcribe implements stt.Engine. The file must exist and be non-empty.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, stt.NewError(e.Name(), audioPath, err)
	}
	if info.Size() == 0 {
		return nil, stt.NewError(e.Name(), audioPath, fmt.Errorf("empty audio file"))
	}
	if err := ctx.Err(); err != nil {
		return nil, stt.NewError(e.Name(), audioPath, err)
	}

	segs := make([]models.SegmentInput, len(e.utterances))
	for i, text := range e.utterances {
		start := int64(i) * UtteranceSpacingMs
		segs[i] = models.SegmentInput{
			Speaker: models.SpeakerUnknown,
			Text:    text,
			StartMs: models.Int64(start),
			EndMs:   models.Int64(start + UtteranceSpacingMs),
		}
	}
	return models.NewTranscript(segs), nil
}
