package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/schema"
	"call-monitoring-service/internal/service/analysis"
	"call-monitoring-service/internal/service/llm"
	"call-monitoring-service/internal/service/stream"
	"call-monitoring-service/internal/service/upload"
	"call-monitoring-service/internal/store"
)

// switchableAnalyzer implements llm.Analyzer
type switchableAnalyzer struct {
	mu  sync.Mutex
	out map[string]any
	err error
}

func (a *switchableAnalyzer) Name() string { return "switchable" }

func (a *switchableAnalyzer) Analyze(ctx context.Context, transcript, instruction string) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out, a.err
}

type nopPublisher struct{}

func (nopPublisher) PublishIngested(context.Context, models.CallIngested) error { return nil }
func (nopPublisher) PublishAnalyzed(context.Context, models.CallAnalyzed) error { return nil }

// stubFetcher implements TranscriptFetcher
type stubFetcher struct {
	segs []models.SegmentInput
	err  error
	ids  []string
}

func (f *stubFetcher) Fetch(ctx context.Context, conferenceID string) ([]models.SegmentInput, error) {
	f.ids = append(f.ids, conferenceID)
	return f.segs, f.err
}

// echoEngine implements stt.Engine, returning one segment per file
type echoEngine struct{}

func (echoEngine) Name() string { return "echo" }

func (echoEngine) Transcribe(ctx context.Context, path string) (*models.Transcript, error) {
	return models.NewTranscript([]models.SegmentInput{{Speaker: models.SpeakerUnknown, Text: "transcribed audio"}}), nil
}

// copyConverter implements audio.Converter
type copyConverter struct{}

func (copyConverter) Name() string { return "copy" }

func (copyConverter) Convert(ctx context.Context, in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o600)
}

type fixture struct {
	store    *store.Store
	orch     *pipeline.Orchestrator
	analyzer *switchableAnalyzer
	fetcher  *stubFetcher
	handler  http.Handler
}

func newFixture(t *testing.T, maxSessions int64) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v, err := schema.New()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	a := &switchableAnalyzer{out: map[string]any{"summary": "ok", "sentiment_hint": "negative", "escalation_signal": true}}
	orch := pipeline.New(st, analysis.NewService(a), nopPublisher{}, pipeline.NewPool(1, 16), pipeline.Config{
		RetryInitialInterval: time.Millisecond,
		RetryMaxElapsed:      50 * time.Millisecond,
	})
	t.Cleanup(func() { orch.Close(context.Background()) })

	fetcher := &stubFetcher{}
	ids := stream.NewGenerator()
	h := NewRouter(Deps{
		Store:     st,
		Pipeline:  orch,
		Uploads:   upload.NewProcessor(echoEngine{}, nil, orch, 1<<20),
		Meet:      fetcher,
		Validator: v,
		Sessions: func() StreamRunner {
			return stream.NewSession(ids.Next(), copyConverter{}, echoEngine{}, orch, stream.Limits{})
		},
		PublicWSURL: "wss://calls.example.com",
		CORSOrigins: []string{"https://dashboard.example.com"},
		MaxSessions: maxSessions,
	})

	return &fixture{store: st, orch: orch, analyzer: a, fetcher: fetcher, handler: h}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *fixture) seedCall(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	call, err := f.store.CreateCall(ctx, store.CallParams{Source: models.SourceWebhook})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if _, err := f.store.AddSegments(ctx, call.ID, []models.SegmentInput{{Text: "please escalate"}}); err != nil {
		t.Fatalf("add segments: %v", err)
	}
	return call.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 1)
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
		if decode(t, rec)["status"] != "ok" {
			t.Errorf("%s: unexpected body %s", path, rec.Body.String())
		}
	}
	if rec := f.do(t, http.MethodGet, "/readiness", ""); rec.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", rec.Code)
	}
}

func TestMeetWebhook_InlineSegments(t *testing.T) {
	f := newFixture(t, 1)
	body := `{"source":"google_meet","external_id":"meet-1","started_at":"2025-03-01T10:00:00Z","segments":[
		{"speaker":"agent","text":"Hello","start_time_ms":0,"end_time_ms":800},
		{"speaker":"customer","text":"Hi there"},
		{"speaker":"robot","text":"Bye"}]}`

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/meet", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["received"] != true {
		t.Fatalf("expected received, got %v", out)
	}

	call, err := f.store.GetCall(context.Background(), out["call_id"].(string))
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.Source != models.SourceGoogleMeet || *call.ExternalID != "meet-1" {
		t.Errorf("unexpected call %+v", call.Call)
	}
	if len(call.Segments) != 3 || call.Segments[2].Speaker != models.SpeakerUnknown {
		t.Errorf("unexpected segments %+v", call.Segments)
	}
	if len(f.fetcher.ids) != 0 {
		t.Error("expected no remote fetch for inline segments")
	}
}

func TestMeetWebhook_FetchesByConference(t *testing.T) {
	f := newFixture(t, 1)
	f.fetcher.segs = []models.SegmentInput{{Speaker: models.SpeakerAgent, Text: "fetched"}}

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/meet", `{"conference_id":"conf-9","segments":[]}`)
	out := decode(t, rec)
	if out["received"] != true {
		t.Fatalf("expected received, got %v", out)
	}
	if len(f.fetcher.ids) != 1 || f.fetcher.ids[0] != "conf-9" {
		t.Errorf("expected fetch for conf-9, got %v", f.fetcher.ids)
	}

	call, _ := f.store.GetCall(context.Background(), out["call_id"].(string))
	if call.ExternalID == nil || *call.ExternalID != "conf-9" {
		t.Errorf("expected external id to default to conference id, got %v", call.ExternalID)
	}
}

func TestMeetWebhook_NonFatalFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		fetchErr error
	}{
		{"nothing to ingest", `{"segments":[]}`, nil},
		{"fetch error", `{"conference_id":"conf-1","segments":[]}`, errors.New("meet down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			f.fetcher.err = tt.fetchErr

			rec := f.do(t, http.MethodPost, "/api/v1/webhooks/meet", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			out := decode(t, rec)
			if out["received"] != false || out["error"] == "" {
				t.Errorf("expected non-fatal error body, got %v", out)
			}
			_, total, _ := f.store.ListCalls(context.Background(), store.CallFilter{})
			if total != 0 {
				t.Errorf("expected no calls, got %d", total)
			}
		})
	}
}

func TestMeetWebhook_InvalidPayload(t *testing.T) {
	f := newFixture(t, 1)
	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/meet", `{"segments":[{"speaker":"agent"}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestMeetWebhook_SegmentEndsBeforeStart(t *testing.T) {
	f := newFixture(t, 1)
	body := `{"segments":[
		{"text":"fine","start_time_ms":0,"end_time_ms":100},
		{"text":"hi","start_time_ms":500,"end_time_ms":100}]}`

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/meet", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	problems, ok := decode(t, rec)["detail"].([]any)
	if !ok || len(problems) != 1 {
		t.Fatalf("expected one listed problem, got %s", rec.Body.String())
	}
	if !strings.Contains(problems[0].(string), "segments.1") {
		t.Errorf("expected problem to name segments.1, got %v", problems[0])
	}
	_, total, _ := f.store.ListCalls(context.Background(), store.CallFilter{})
	if total != 0 {
		t.Errorf("expected no calls, got %d", total)
	}
}

func TestMeetWebhook_SpeakerLabelsIgnoreCase(t *testing.T) {
	f := newFixture(t, 1)
	body := `{"segments":[{"speaker":"Agent","text":"Hello"},{"speaker":" CUSTOMER ","text":"Hi"}]}`

	out := decode(t, f.do(t, http.MethodPost, "/api/v1/webhooks/meet", body))
	call, err := f.store.GetCall(context.Background(), out["call_id"].(string))
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.Segments[0].Speaker != models.SpeakerAgent || call.Segments[1].Speaker != models.SpeakerCustomer {
		t.Errorf("expected agent/customer, got %s/%s", call.Segments[0].Speaker, call.Segments[1].Speaker)
	}
}

func TestCalls_ListAndGet(t *testing.T) {
	f := newFixture(t, 1)
	id := f.seedCall(t)
	f.seedCall(t)

	rec := f.do(t, http.MethodGet, "/api/v1/calls?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["total"] != float64(2) || len(out["calls"].([]any)) != 1 || out["limit"] != float64(1) {
		t.Errorf("unexpected page %v", out)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/calls/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	detail := decode(t, rec)
	if detail["id"] != id || len(detail["segments"].([]any)) != 1 {
		t.Errorf("unexpected detail %v", detail)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/calls/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCalls_InvalidPaging(t *testing.T) {
	f := newFixture(t, 1)
	for _, q := range []string{"limit=0", "limit=101", "limit=abc", "offset=-1"} {
		if rec := f.do(t, http.MethodGet, "/api/v1/calls?"+q, ""); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", q, rec.Code)
		}
	}
}

func TestCalls_Delete(t *testing.T) {
	f := newFixture(t, 1)
	id := f.seedCall(t)

	if rec := f.do(t, http.MethodDelete, "/api/v1/calls/"+id, ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/v1/calls/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAnalyzeRealtime(t *testing.T) {
	f := newFixture(t, 1)
	id := f.seedCall(t)

	rec := f.do(t, http.MethodPost, "/api/v1/calls/"+id+"/analyze-realtime", `{"segment_text":"I want a manager"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	payload := out["analysis"].(map[string]any)
	if payload["sentiment_hint"] != "negative" || payload["escalation_signal"] != true {
		t.Errorf("unexpected payload %v", payload)
	}

	_, total, _ := f.store.ListAnalyses(context.Background(), store.AnalysisFilter{CallID: id, Kind: models.KindRealtime})
	if total != 1 {
		t.Errorf("expected stored realtime analysis, got %d", total)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/calls/missing/analyze-realtime", `{"segment_text":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/calls/"+id+"/analyze-realtime", `{}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestReanalyze_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"provider", &llm.ProviderError{Provider: "p", StatusCode: 500, Err: errors.New("boom")}, http.StatusBadGateway},
		{"timeout", &llm.ProviderError{Provider: "p", Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"parse", &llm.ParseError{Raw: "nope", Err: errors.New("bad json")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			id := f.seedCall(t)
			f.analyzer.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/calls/"+id+"/analyze", "")
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestReanalyze_Success(t *testing.T) {
	f := newFixture(t, 1)
	id := f.seedCall(t)

	rec := f.do(t, http.MethodPost, "/api/v1/calls/"+id+"/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	a := decode(t, rec)["analysis"].(map[string]any)
	if a["analysis_type"] != "post_call" {
		t.Errorf("unexpected analysis %v", a)
	}
}

func TestListAnalyses(t *testing.T) {
	f := newFixture(t, 1)
	id := f.seedCall(t)
	f.store.CreateAnalysis(context.Background(), id, models.KindPostCall, map[string]any{"summary": "x"})

	rec := f.do(t, http.MethodGet, "/api/v1/analyses?call_id="+id+"&analysis_type=post_call", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["total"] != float64(1) {
		t.Errorf("expected 1 analysis, got %v", out["total"])
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/analyses?analysis_type=weekly", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, field, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	io.WriteString(fw, content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		fileName string
		want     int
	}{
		{"accepted", "file", "call.MP3", http.StatusOK},
		{"bad extension", "file", "notes.txt", http.StatusBadRequest},
		{"missing field", "audio", "call.wav", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			body, ct := multipartBody(t, tt.field, tt.fileName, "audio-bytes")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			out := decode(t, rec)
			if tt.want == http.StatusOK {
				if out["call_id"] == "" || out["filename"] != tt.fileName || out["transcript"] != "transcribed audio" {
					t.Errorf("unexpected body %v", out)
				}
			}
			if tt.name == "bad extension" && out["call_id"] != nil {
				t.Errorf("expected null call_id, got %v", out["call_id"])
			}
		})
	}
}

func TestTwilioVoice_ReturnsTwiML(t *testing.T) {
	f := newFixture(t, 1)
	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/twilio/voice", "")

	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected application/xml, got %s", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`<Stream url="wss://calls.example.com/api/v1/webhooks/twilio/media"/>`,
		"<Say>Please hold while we connect your call.</Say>",
		`<Pause length="3600"/>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected TwiML to contain %s, got %s", want, body)
		}
	}
}

func TestTwilioStatus(t *testing.T) {
	f := newFixture(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/twilio", strings.NewReader("CallSid=CA1&CallStatus=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || decode(t, rec)["received"] != true {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, 1)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/calls", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://dashboard.example.com" {
		t.Errorf("expected allowed origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS header for unknown origin")
	}
}

func dialMedia(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/webhooks/twilio/media"
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestTwilioMedia_IngestsStream(t *testing.T) {
	f := newFixture(t, 2)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := dialMedia(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for _, m := range []string{
		`{"event":"connected"}`,
		`{"event":"start","streamSid":"MZ1","start":{"callSid":"CA7"}}`,
		`{"event":"media","media":{"payload":"//8="}}`,
		`{"event":"closed"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		calls, _, _ := f.store.ListCalls(context.Background(), store.CallFilter{Source: string(models.SourceLiveStream)})
		if len(calls) == 1 {
			if calls[0].ExternalID == nil || *calls[0].ExternalID != "CA7" {
				t.Errorf("expected external id CA7, got %v", calls[0].ExternalID)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected a live_stream call to be ingested")
}

func TestTwilioMedia_RejectsAtCapacity(t *testing.T) {
	f := newFixture(t, 1)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	first, _, err := dialMedia(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	_, resp, err := dialMedia(t, srv)
	if err == nil {
		t.Fatal("expected second session to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}
