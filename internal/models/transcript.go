package models

import "strings"

// SegmentInput is a segment before it is attached to a call.
type SegmentInput struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	StartMs *int64  `json:"start_time_ms,omitempty"`
	EndMs   *int64  `json:"end_time_ms,omitempty"`
}

// Transcript is an ordered set of segments plus their joined text.
type Transcript struct {
	Segments []SegmentInput `json:"segments"`
	FullText string         `json:"full_text"`
}

// NewTranscript builds a transcript with FullText derived from segs.
func NewTranscript(segs []SegmentInput) *Transcript {
	return &Transcript{Segments: segs, FullText: JoinText(segs)}
}

// JoinText space-joins segment texts in order.
func JoinText(segs []SegmentInput) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Text returns FullText, deriving it from the segments when it is blank.
func (t *Transcript) Text() string {
	if t.FullText == "" && len(t.Segments) > 0 {
		t.FullText = JoinText(t.Segments)
	}
	return t.FullText
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
