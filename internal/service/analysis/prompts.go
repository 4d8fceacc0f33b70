package analysis

// PostCallInstruction asks for the full post-call schema.
const PostCallInstruction = `You are an expert at analyzing customer support call transcripts. Extract structured insights from the transcript.

Return a JSON object with exactly these keys:
- customer_satisfaction_score: integer 1-5 (1 = very dissatisfied, 5 = very satisfied)
- questions_answered_correctly: boolean, whether every customer question was properly addressed
- unanswered_questions: array of strings, questions the customer asked that were not fully answered
- resolution_status: one of "resolved", "partial", "unresolved"
- key_topics: array of strings, main topics discussed (e.g. "billing", "technical_issue", "refund")
- agent_performance_notes: string, brief notes on agent performance
- summary: string, a 2-3 sentence summary of the call

Return ONLY valid JSON, no other text.`

// RealtimeInstruction asks for quick signals on a short excerpt.
const RealtimeInstruction = `You are analyzing a short excerpt of an ongoing customer support call. Extract quick signals.

Return a JSON object with:
- sentiment_hint: "positive" | "neutral" | "negative"
- has_unanswered_question: boolean
- escalation_signal: boolean, whether the customer may escalate
- notes: string, one brief sentence

Return ONLY valid JSON, no other text.`
