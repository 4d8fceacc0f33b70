// Package stt defines the interface for speech-to-text engines.
package stt

import (
	"context"
	"fmt"

	"call-monitoring-service/internal/models"
)

// Engine turns one finished audio resource into an ordered transcript.
// Engines perform no diarization; every segment is attributed to
// models.SpeakerUnknown and start offsets never decrease.
type Engine interface {
	// Transcribe reads the audio at audioPath and returns its transcript.
	// Failures are reported as *TranscriptionError.
	Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error)

	// Name identifies the engine in logs and metrics.
	Name() string
}

// TranscriptionError reports a failed transcription.
type TranscriptionError struct {
	Engine string
	Path   string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (engine=%s path=%s): %v", e.Engine, e.Path, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// NewError wraps err as a *TranscriptionError unless it already is one.
func NewError(engine, path string, err error) error {
	if te, ok := err.(*TranscriptionError); ok {
		return te
	}
	return &TranscriptionError{Engine: engine, Path: path, Err: err}
}
