package stt

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
)

type fallbackEngine struct {
	primary  Engine
	fallback Engine
	metrics  *metrics.Metrics
}

// WithFallback returns an engine that retries a failed transcription once on
// fallback. A nil fallback returns primary unchanged.
func WithFallback(primary, fallback Engine) Engine {
	if fallback == nil {
		return primary
	}
	return &fallbackEngine{primary: primary, fallback: fallback, metrics: metrics.DefaultMetrics}
}

func (f *fallbackEngine) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *fallbackEngine) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	t, err := f.primary.Transcribe(ctx, audioPath)
	if err == nil {
		return t, nil
	}

	var te *TranscriptionError
	if !errors.As(err, &te) || ctx.Err() != nil {
		return nil, err
	}

	log.Warn().
		Err(err).
		Str("primary", f.primary.Name()).
		Str("fallback", f.fallback.Name()).
		Msg("Primary STT engine failed, using fallback")
	f.metrics.STTFallbacks.Inc()

	t, ferr := f.fallback.Transcribe(ctx, audioPath)
	if ferr != nil {
		return nil, &TranscriptionError{Engine: f.Name(), Path: audioPath, Err: errors.Join(err, ferr)}
	}
	return t, nil
}
