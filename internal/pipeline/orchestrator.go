// Package pipeline sequences ingestion: persist a call with its transcript,
// announce it, and analyze it in the background.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/logging"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/service/llm"
	"call-monitoring-service/internal/store"
)

// Analyzer produces a normalized analysis payload for a transcript.
type Analyzer interface {
	Run(ctx context.Context, kind models.AnalysisKind, text string) (any, error)
}

// Publisher announces pipeline events.
type Publisher interface {
	PublishIngested(ctx context.Context, ev models.CallIngested) error
	PublishAnalyzed(ctx context.Context, ev models.CallAnalyzed) error
}

// IngestRequest is a transcript from any entry path.
type IngestRequest struct {
	Source     models.Source
	ExternalID string
	StartedAt  *time.Time
	EndedAt    *time.Time
	Metadata   map[string]any
	Transcript *models.Transcript
	Kind       models.AnalysisKind // defaults to post_call
}

// IngestResult describes a committed call.
type IngestResult struct {
	CallID       string
	SegmentCount int
	FullText     string
	Queued       bool // false when the analysis could not be scheduled
}

// Config tunes analysis retries.
type Config struct {
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// Orchestrator is the single commit boundary for ingestion.
type Orchestrator struct {
	store     *store.Store
	analyzer  Analyzer
	publisher Publisher
	pool      *Pool
	cfg       Config
	metrics   *metrics.Metrics
}

// New creates an orchestrator. pool runs the background analyses.
func New(st *store.Store, analyzer Analyzer, publisher Publisher, pool *Pool, cfg Config) *Orchestrator {
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 2 * time.Minute
	}
	return &Orchestrator{
		store:     st,
		analyzer:  analyzer,
		publisher: publisher,
		pool:      pool,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
	}
}

// Ingest persists the call and its segments in one transaction, publishes
// call.ingested and schedules the analysis. Analysis failures never undo
// the persisted transcript.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.Transcript == nil {
		req.Transcript = models.NewTranscript(nil)
	}
	if req.Kind == "" {
		req.Kind = models.KindPostCall
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown analysis kind %q", req.Kind)
	}

	var ext *string
	if req.ExternalID != "" {
		ext = &req.ExternalID
	}

	var callID string
	err := o.store.WithTx(ctx, func(q *store.Queries) error {
		call, err := q.CreateCall(ctx, store.CallParams{
			Source:     req.Source,
			ExternalID: ext,
			StartedAt:  req.StartedAt,
			EndedAt:    req.EndedAt,
			Metadata:   req.Metadata,
		})
		if err != nil {
			return err
		}
		callID = call.ID
		_, err = q.AddSegments(ctx, call.ID, req.Transcript.Segments)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("persist call: %w", err)
	}

	text := req.Transcript.Text()
	segCount := len(req.Transcript.Segments)
	o.metrics.RecordIngested(string(req.Source), segCount)

	logger := logging.WithCall(callID, string(req.Source))
	logger.Info().
		Int("segments", segCount).
		Str("externalId", req.ExternalID).
		Msg("Call ingested")

	if err := o.publisher.PublishIngested(ctx, models.CallIngested{
		CallID:       callID,
		Source:       req.Source,
		ExternalID:   req.ExternalID,
		SegmentCount: segCount,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish call.ingested")
	}

	res := &IngestResult{CallID: callID, SegmentCount: segCount, FullText: text}
	kind := req.Kind
	err = o.pool.Submit(func(jobCtx context.Context) {
		if _, err := o.analyzeWithRetry(jobCtx, callID, kind, text); err != nil {
			logger.Error().Err(err).Str("kind", string(kind)).Msg("Analysis failed, transcript kept")
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Analysis not scheduled")
		o.metrics.RecordAnalysis(string(kind), "dropped")
		return res, nil
	}
	res.Queued = true
	return res, nil
}

// Analyze runs and persists one analysis synchronously, without retries.
func (o *Orchestrator) Analyze(ctx context.Context, callID string, kind models.AnalysisKind, text string) (*models.CallAnalysis, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown analysis kind %q", kind)
	}
	a, err := o.analyzeOnce(ctx, callID, kind, text)
	o.recordOutcome(kind, err)
	return a, err
}

// Reanalyze re-runs an analysis over the stored transcript of callID.
func (o *Orchestrator) Reanalyze(ctx context.Context, callID string, kind models.AnalysisKind) (*models.CallAnalysis, error) {
	call, err := o.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	return o.Analyze(ctx, callID, kind, StoredText(call.Segments))
}

// StoredText joins persisted segment texts in order.
func StoredText(segs []models.TranscriptSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Close drains pending analyses.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.pool.Close(ctx)
}

func (o *Orchestrator) analyzeWithRetry(ctx context.Context, callID string, kind models.AnalysisKind, text string) (*models.CallAnalysis, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInitialInterval
	b.MaxElapsedTime = o.cfg.RetryMaxElapsed

	var result *models.CallAnalysis
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			o.metrics.AnalysisRetries.Inc()
		}
		a, err := o.analyzeOnce(ctx, callID, kind, text)
		if err == nil {
			result = a
			return nil
		}
		var pe *llm.ProviderError
		if errors.As(err, &pe) {
			log.Warn().Err(err).Str("callId", callID).Int("attempt", attempt).Msg("Analysis provider error, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	o.recordOutcome(kind, err)
	return result, err
}

// analyzeOnce runs the analyzer, then persists and publishes the result.
func (o *Orchestrator) analyzeOnce(ctx context.Context, callID string, kind models.AnalysisKind, text string) (*models.CallAnalysis, error) {
	payload, err := o.analyzer.Run(ctx, kind, text)
	if err != nil {
		return nil, err
	}

	var a *models.CallAnalysis
	err = o.store.WithTx(ctx, func(q *store.Queries) error {
		var txErr error
		a, txErr = q.CreateAnalysis(ctx, callID, kind, payload)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}

	if err := o.publisher.PublishAnalyzed(ctx, models.CallAnalyzed{
		CallID:     callID,
		AnalysisID: a.ID,
		Kind:       kind,
		Payload:    payload,
	}); err != nil {
		log.Warn().Err(err).Str("callId", callID).Msg("Failed to publish call.analyzed")
	}
	return a, nil
}

func (o *Orchestrator) recordOutcome(kind models.AnalysisKind, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	o.metrics.RecordAnalysis(string(kind), outcome)
}
