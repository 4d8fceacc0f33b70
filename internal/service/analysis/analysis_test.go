package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/service/llm"
)

// countingAnalyzer implements llm.Analyzer for testing
type countingAnalyzer struct {
	calls       atomic.Int32
	out         map[string]any
	err         error
	instruction string
}

func (a *countingAnalyzer) Name() string { return "counting" }

func (a *countingAnalyzer) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	a.calls.Add(1)
	a.instruction = instruction
	return a.out, a.err
}

func TestNormalizePostCall_Defaults(t *testing.T) {
	inputs := []map[string]any{
		nil,
		{},
		{"customer_satisfaction_score": nil, "key_topics": nil},
		{"customer_satisfaction_score": "great", "questions_answered_correctly": 3, "unanswered_questions": "none",
			"resolution_status": 7, "key_topics": map[string]any{}, "agent_performance_notes": false, "summary": []any{}},
	}

	for i, in := range inputs {
		got := NormalizePostCall(in)
		if got.CustomerSatisfactionScore != nil {
			t.Errorf("%d: expected nil score, got %d", i, *got.CustomerSatisfactionScore)
		}
		if got.QuestionsAnsweredCorrectly != nil {
			t.Errorf("%d: expected nil correctness", i)
		}
		if got.UnansweredQuestions == nil || len(got.UnansweredQuestions) != 0 {
			t.Errorf("%d: expected empty unanswered list, got %v", i, got.UnansweredQuestions)
		}
		if got.KeyTopics == nil || len(got.KeyTopics) != 0 {
			t.Errorf("%d: expected empty topics, got %v", i, got.KeyTopics)
		}
		if got.ResolutionStatus != "unknown" {
			t.Errorf("%d: expected unknown resolution, got %q", i, got.ResolutionStatus)
		}
		if got.AgentPerformanceNotes != "" || got.Summary != "" {
			t.Errorf("%d: expected empty strings, got %+v", i, got)
		}
	}
}

func TestNormalizePostCall_AllSevenKeys(t *testing.T) {
	b, err := json.Marshal(NormalizePostCall(nil))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)

	keys := []string{"customer_satisfaction_score", "questions_answered_correctly", "unanswered_questions",
		"resolution_status", "key_topics", "agent_performance_notes", "summary"}
	if len(m) != len(keys) {
		t.Errorf("expected %d keys, got %d: %v", len(keys), len(m), m)
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %s", k)
		}
	}
}

func TestNormalizePostCall_Score(t *testing.T) {
	tests := []struct {
		in   any
		want int // 0 means nil
	}{
		{float64(4), 4},
		{float64(1), 1},
		{float64(5), 5},
		{"3", 3},
		{float64(0), 0},
		{float64(6), 0},
		{float64(3.5), 0},
		{"high", 0},
		{true, 0},
	}
	for _, tt := range tests {
		got := NormalizePostCall(map[string]any{"customer_satisfaction_score": tt.in}).CustomerSatisfactionScore
		if tt.want == 0 {
			if got != nil {
				t.Errorf("score(%v): expected nil, got %d", tt.in, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("score(%v): expected %d, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNormalizePostCall_Values(t *testing.T) {
	got := NormalizePostCall(map[string]any{
		"customer_satisfaction_score":  float64(2),
		"questions_answered_correctly": false,
		"unanswered_questions":         []any{"When is my refund?", 42, "  "},
		"resolution_status":            " Partial ",
		"key_topics":                   []any{"billing", "refund"},
		"agent_performance_notes":      "Polite",
		"summary":                      "Customer asked about a refund.",
	})

	if got.QuestionsAnsweredCorrectly == nil || *got.QuestionsAnsweredCorrectly {
		t.Errorf("expected false correctness, got %v", got.QuestionsAnsweredCorrectly)
	}
	if len(got.UnansweredQuestions) != 1 || got.UnansweredQuestions[0] != "When is my refund?" {
		t.Errorf("unexpected unanswered %v", got.UnansweredQuestions)
	}
	if got.ResolutionStatus != "partial" {
		t.Errorf("expected partial, got %s", got.ResolutionStatus)
	}
	if len(got.KeyTopics) != 2 || got.Summary == "" || got.AgentPerformanceNotes != "Polite" {
		t.Errorf("unexpected analysis %+v", got)
	}
}

func TestNormalizeRealtime(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want models.RealtimeAnalysis
	}{
		{"nil", nil, models.RealtimeAnalysis{SentimentHint: "neutral"}},
		{"bad types", map[string]any{"sentiment_hint": "furious", "escalation_signal": "maybe", "notes": 1},
			models.RealtimeAnalysis{SentimentHint: "neutral"}},
		{"values", map[string]any{"sentiment_hint": "NEGATIVE", "has_unanswered_question": true,
			"escalation_signal": "true", "notes": "wants a manager"},
			models.RealtimeAnalysis{SentimentHint: "negative", HasUnansweredQuestion: true, EscalationSignal: true, Notes: "wants a manager"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRealtime(tt.in); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestRun_EmptyTranscriptSkipsProvider(t *testing.T) {
	a := &countingAnalyzer{}
	s := NewService(a)

	for _, text := range []string{"", "   ", "\n\t"} {
		out, err := s.Run(context.Background(), models.KindPostCall, text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pc := out.(models.PostCallAnalysis)
		if pc.CustomerSatisfactionScore != nil || pc.QuestionsAnsweredCorrectly != nil {
			t.Error("expected null score and correctness")
		}
		if pc.ResolutionStatus != "unknown" || pc.Summary != "Empty transcript." ||
			pc.AgentPerformanceNotes != "No transcript content to analyze." {
			t.Errorf("unexpected canned payload %+v", pc)
		}

		rt, err := s.Run(context.Background(), models.KindRealtime, text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rt.(models.RealtimeAnalysis) != (models.RealtimeAnalysis{SentimentHint: "neutral"}) {
			t.Errorf("unexpected realtime default %+v", rt)
		}
	}

	if a.calls.Load() != 0 {
		t.Errorf("expected zero provider calls, got %d", a.calls.Load())
	}
}

func TestRun_CallsProviderWithInstruction(t *testing.T) {
	a := &countingAnalyzer{out: map[string]any{"resolution_status": "resolved"}}
	s := NewService(a)

	out, err := s.Run(context.Background(), models.KindPostCall, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(models.PostCallAnalysis).ResolutionStatus != "resolved" {
		t.Errorf("unexpected output %+v", out)
	}
	if a.instruction != PostCallInstruction {
		t.Error("expected post-call instruction")
	}

	if _, err := s.Run(context.Background(), models.KindRealtime, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.instruction != RealtimeInstruction {
		t.Error("expected realtime instruction")
	}
}

func TestRun_Errors(t *testing.T) {
	perr := &llm.ProviderError{Provider: "p", StatusCode: 500}
	s := NewService(&countingAnalyzer{err: perr})

	if _, err := s.Run(context.Background(), models.KindPostCall, "x"); !errors.Is(err, perr) {
		t.Errorf("expected provider error, got %v", err)
	}
	if _, err := s.Run(context.Background(), "sentiment", "x"); err == nil {
		t.Error("expected unknown kind error")
	}
}
