package http

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/schema"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type webhookSegment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs *int64 `json:"start_time_ms"`
	EndMs   *int64 `json:"end_time_ms"`
}

type meetWebhook struct {
	Source       string           `json:"source"`
	ExternalID   string           `json:"external_id"`
	ConferenceID string           `json:"conference_id"`
	StartedAt    *time.Time       `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at"`
	Segments     []webhookSegment `json:"segments"`
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	callID, text, err := h.Uploads.Process(r.Context(), header.Filename, file)
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "call_id": nil})
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Upload processed",
		"call_id":    callID,
		"filename":   header.Filename,
		"transcript": text,
	})
}

func (h *handlers) meetWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Validator.Validate(schema.MeetWebhook, body); err != nil {
		fail(w, r, err)
		return
	}
	var p meetWebhook
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var problems []string
	for i, s := range p.Segments {
		if s.StartMs != nil && s.EndMs != nil && *s.EndMs < *s.StartMs {
			problems = append(problems, fmt.Sprintf("segments.%d: end_time_ms %d is before start_time_ms %d", i, *s.EndMs, *s.StartMs))
		}
	}
	if len(problems) > 0 {
		fail(w, r, &schema.ValidationError{Schema: schema.MeetWebhook, Problems: problems})
		return
	}

	segs := make([]models.SegmentInput, 0, len(p.Segments))
	for _, s := range p.Segments {
		segs = append(segs, models.SegmentInput{
			Speaker: models.ParseSpeaker(s.Speaker),
			Text:    s.Text,
			StartMs: s.StartMs,
			EndMs:   s.EndMs,
		})
	}

	if len(segs) == 0 && p.ConferenceID != "" {
		if h.Meet == nil {
			writeJSON(w, http.StatusOK, map[string]any{"received": false, "error": "conference transcript fetching is not configured"})
			return
		}
		fetched, err := h.Meet.Fetch(r.Context(), p.ConferenceID)
		if err != nil {
			log.Warn().Err(err).Str("conferenceId", p.ConferenceID).Msg("Meet transcript fetch failed")
			writeJSON(w, http.StatusOK, map[string]any{"received": false, "error": err.Error()})
			return
		}
		segs = fetched
	}
	if len(segs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"received": false, "error": "No segments provided and no conference_id"})
		return
	}

	source := models.Source(p.Source)
	if source == "" {
		source = models.SourceGoogleMeet
	}
	externalID := p.ExternalID
	if externalID == "" {
		externalID = p.ConferenceID
	}

	res, err := h.Pipeline.Ingest(r.Context(), pipeline.IngestRequest{
		Source:     source,
		ExternalID: externalID,
		StartedAt:  p.StartedAt,
		EndedAt:    p.EndedAt,
		Transcript: models.NewTranscript(segs),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "call_id": res.CallID})
}

func (h *handlers) twilioVoice(w http.ResponseWriter, r *http.Request) {
	wsURL := h.PublicWSURL + "/api/v1/webhooks/twilio/media"
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s"/>
    </Connect>
    <Say>Please hold while we connect your call.</Say>
    <Pause length="3600"/>
</Response>`, xmlEscape(wsURL))
}

func (h *handlers) twilioStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil && r.PostForm.Get("CallSid") != "" {
		log.Info().
			Str("callSid", r.PostForm.Get("CallSid")).
			Str("callStatus", r.PostForm.Get("CallStatus")).
			Msg("Twilio status callback")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handlers) twilioMedia(w http.ResponseWriter, r *http.Request) {
	if !h.streams.TryAcquire(1) {
		h.metrics.StreamsRejected.Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.streams.Release(1)
	if h.Tracker != nil {
		defer h.Tracker.Begin()()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// processing continues after the caller hangs up
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.Sessions().Run(ctx, conn); err != nil {
		log.Warn().Err(err).Msg("Media stream produced no call")
	}
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
