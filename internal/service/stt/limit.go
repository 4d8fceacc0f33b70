package stt

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
)

type limitedEngine struct {
	Engine
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// Limit bounds concurrent Transcribe calls on e to n (n < 1 means 1) and
// records latency per engine.
func Limit(e Engine, n int64) Engine {
	if n < 1 {
		n = 1
	}
	return &limitedEngine{Engine: e, sem: semaphore.NewWeighted(n), metrics: metrics.DefaultMetrics}
}

func (l *limitedEngine) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, NewError(l.Name(), audioPath, err)
	}
	defer l.sem.Release(1)

	start := time.Now()
	t, err := l.Engine.Transcribe(ctx, audioPath)
	l.metrics.RecordSTT(l.Name(), err, time.Since(start).Seconds())
	return t, err
}
