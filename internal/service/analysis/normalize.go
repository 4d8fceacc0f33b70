package analysis

import (
	"math"
	"strconv"
	"strings"

	"call-monitoring-service/internal/models"
)

// NormalizePostCall coerces raw model output into the post-call schema.
// Missing, null or mistyped keys take their defaults.
func NormalizePostCall(raw map[string]any) models.PostCallAnalysis {
	return models.PostCallAnalysis{
		CustomerSatisfactionScore:  score(raw["customer_satisfaction_score"]),
		QuestionsAnsweredCorrectly: optionalBool(raw["questions_answered_correctly"]),
		UnansweredQuestions:        stringList(raw["unanswered_questions"]),
		ResolutionStatus: oneOf(raw["resolution_status"], models.ResolutionUnknown,
			models.ResolutionResolved, models.ResolutionPartial, models.ResolutionUnresolved, models.ResolutionUnknown),
		KeyTopics:             stringList(raw["key_topics"]),
		AgentPerformanceNotes: str(raw["agent_performance_notes"]),
		Summary:               str(raw["summary"]),
	}
}

// NormalizeRealtime coerces raw model output into the realtime schema.
func NormalizeRealtime(raw map[string]any) models.RealtimeAnalysis {
	return models.RealtimeAnalysis{
		SentimentHint: oneOf(raw["sentiment_hint"], models.SentimentNeutral,
			models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative),
		HasUnansweredQuestion: boolOr(raw["has_unanswered_question"], false),
		EscalationSignal:      boolOr(raw["escalation_signal"], false),
		Notes:                 str(raw["notes"]),
	}
}

// score accepts whole numbers 1-5, as JSON numbers or numeric strings.
func score(v any) *int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f != math.Trunc(f) || f < 1 || f > 5 {
		return nil
	}
	n := int(f)
	return &n
}

func optionalBool(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return &b
		}
	}
	return nil
}

func boolOr(v any, def bool) bool {
	if b := optionalBool(v); b != nil {
		return *b
	}
	return def
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// stringList keeps the non-blank string elements of a JSON array.
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func oneOf(v any, def string, allowed ...string) string {
	s := strings.ToLower(strings.TrimSpace(str(v)))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}
