package models

// Resolution statuses for post-call analysis.
const (
	ResolutionResolved   = "resolved"
	ResolutionPartial    = "partial"
	ResolutionUnresolved = "unresolved"
	ResolutionUnknown    = "unknown"
)

// Sentiment hints for real-time analysis.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// PostCallAnalysis is the fixed post-call payload schema.
type PostCallAnalysis struct {
	CustomerSatisfactionScore  *int     `json:"customer_satisfaction_score"`
	QuestionsAnsweredCorrectly *bool    `json:"questions_answered_correctly"`
	UnansweredQuestions        []string `json:"unanswered_questions"`
	ResolutionStatus           string   `json:"resolution_status"`
	KeyTopics                  []string `json:"key_topics"`
	AgentPerformanceNotes      string   `json:"agent_performance_notes"`
	Summary                    string   `json:"summary"`
}

// RealtimeAnalysis is the fixed real-time payload schema.
type RealtimeAnalysis struct {
	SentimentHint         string `json:"sentiment_hint"`
	HasUnansweredQuestion bool   `json:"has_unanswered_question"`
	EscalationSignal      bool   `json:"escalation_signal"`
	Notes                 string `json:"notes"`
}
