package models

// CallIngested is published once a call and its segments are committed.
type CallIngested struct {
	EventType    string `json:"eventType"`
	CallID       string `json:"callId"`
	Source       Source `json:"source"`
	ExternalID   string `json:"externalId,omitempty"`
	SegmentCount int    `json:"segmentCount"`
	Timestamp    int64  `json:"timestamp"`
}

// CallAnalyzed is published once an analysis is persisted.
type CallAnalyzed struct {
	EventType  string       `json:"eventType"`
	CallID     string       `json:"callId"`
	AnalysisID string       `json:"analysisId"`
	Kind       AnalysisKind `json:"analysisType"`
	Payload    any          `json:"payload"`
	Timestamp  int64        `json:"timestamp"`
}
