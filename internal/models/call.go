// Package models defines the call, transcript and analysis data structures.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Source identifies how a call entered the system.
type Source string

const (
	SourceWebhook    Source = "webhook"
	SourceGoogleMeet Source = "google_meet"
	SourceUpload     Source = "upload"
	SourceLiveStream Source = "live_stream"
)

// Speaker labels a transcript segment.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
	SpeakerUnknown  Speaker = "unknown"
)

// ParseSpeaker maps free-form input onto a known speaker, ignoring case and
// surrounding space, defaulting to unknown.
func ParseSpeaker(s string) Speaker {
	sp := Speaker(strings.ToLower(strings.TrimSpace(s)))
	switch sp {
	case SpeakerAgent, SpeakerCustomer:
		return sp
	default:
		return SpeakerUnknown
	}
}

// AnalysisKind selects the analysis schema.
type AnalysisKind string

const (
	KindPostCall AnalysisKind = "post_call"
	KindRealtime AnalysisKind = "realtime"
)

// Valid reports whether k is a known analysis kind.
func (k AnalysisKind) Valid() bool {
	return k == KindPostCall || k == KindRealtime
}

// Call is one ingested conversation.
type Call struct {
	ID         string         `json:"id"`
	Source     Source         `json:"source"`
	ExternalID *string        `json:"external_id"`
	StartedAt  *time.Time     `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TranscriptSegment is one attributed, time-bounded span of speech.
type TranscriptSegment struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	StartMs   *int64    `json:"start_time_ms"`
	EndMs     *int64    `json:"end_time_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// CallAnalysis is an append-only analysis result for a call.
type CallAnalysis struct {
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	Kind      AnalysisKind    `json:"analysis_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// CallDetail is a call with its segments and analyses.
type CallDetail struct {
	Call
	Segments []TranscriptSegment `json:"segments"`
	Analyses []CallAnalysis      `json:"analyses"`
}
