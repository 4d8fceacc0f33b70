// Package analysis runs post-call and realtime analyses and normalizes
// whatever the model returns into fixed schemas.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/service/llm"
)

// Service runs analyses through an llm.Analyzer.
type Service struct {
	analyzer llm.Analyzer
}

// NewService creates an analysis service.
func NewService(a llm.Analyzer) *Service {
	return &Service{analyzer: a}
}

// EmptyPostCall is stored for calls with no transcript text.
func EmptyPostCall() models.PostCallAnalysis {
	return models.PostCallAnalysis{
		UnansweredQuestions:   []string{},
		ResolutionStatus:      models.ResolutionUnknown,
		KeyTopics:             []string{},
		AgentPerformanceNotes: "No transcript content to analyze.",
		Summary:               "Empty transcript.",
	}
}

// EmptyRealtime is stored for excerpts with no text.
func EmptyRealtime() models.RealtimeAnalysis {
	return NormalizeRealtime(nil)
}

// Run analyzes text as kind and returns a models.PostCallAnalysis or
// models.RealtimeAnalysis. Blank text never reaches the provider.
func (s *Service) Run(ctx context.Context, kind models.AnalysisKind, text string) (any, error) {
	switch kind {
	case models.KindPostCall:
		return s.PostCall(ctx, text)
	case models.KindRealtime:
		return s.Realtime(ctx, text)
	default:
		return nil, fmt.Errorf("unknown analysis kind %q", kind)
	}
}

// PostCall runs the post-call analysis.
func (s *Service) PostCall(ctx context.Context, text string) (models.PostCallAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return EmptyPostCall(), nil
	}
	raw, err := s.analyzer.Analyze(ctx, text, PostCallInstruction)
	if err != nil {
		return models.PostCallAnalysis{}, err
	}
	return NormalizePostCall(raw), nil
}

// Realtime runs the realtime analysis.
func (s *Service) Realtime(ctx context.Context, text string) (models.RealtimeAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return EmptyRealtime(), nil
	}
	raw, err := s.analyzer.Analyze(ctx, text, RealtimeInstruction)
	if err != nil {
		return models.RealtimeAnalysis{}, err
	}
	return NormalizeRealtime(raw), nil
}
