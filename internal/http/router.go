package http

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/schema"
	"call-monitoring-service/internal/service/stream"
	"call-monitoring-service/internal/store"
)

const serviceName = "call-monitoring-service"

// Store is the read side of persistence used by the API.
type Store interface {
	GetCall(ctx context.Context, id string) (*models.CallDetail, error)
	ListCalls(ctx context.Context, f store.CallFilter) ([]models.Call, int, error)
	ListAnalyses(ctx context.Context, f store.AnalysisFilter) ([]models.CallAnalysis, int, error)
	DeleteCall(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Pipeline ingests transcripts and runs analyses.
type Pipeline interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
	Analyze(ctx context.Context, callID string, kind models.AnalysisKind, text string) (*models.CallAnalysis, error)
	Reanalyze(ctx context.Context, callID string, kind models.AnalysisKind) (*models.CallAnalysis, error)
}

// Uploader processes an uploaded recording.
type Uploader interface {
	Process(ctx context.Context, fileName string, r io.Reader) (callID, fullText string, err error)
}

// TranscriptFetcher pulls a finished conference transcript.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, conferenceID string) ([]models.SegmentInput, error)
}

// StreamRunner consumes one media socket.
type StreamRunner interface {
	Run(ctx context.Context, conn stream.Conn) (string, error)
}

// Deps wires the router to the service layer.
type Deps struct {
	Store     Store
	Pipeline  Pipeline
	Uploads   Uploader
	Meet      TranscriptFetcher // nil disables conference fetches
	Validator *schema.Validator
	Sessions  func() StreamRunner
	Tracker   *stream.Tracker // counts running media sessions; nil disables

	PublicWSURL    string
	CORSOrigins    []string
	MaxSessions    int64
	MaxUploadBytes int64
}

type handlers struct {
	Deps
	streams *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	if d.MaxSessions < 1 {
		d.MaxSessions = 1
	}
	h := &handlers{
		Deps:    d,
		streams: semaphore.NewWeighted(d.MaxSessions),
		metrics: metrics.DefaultMetrics,
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(d.CORSOrigins))
	r.Use(instrument(h.metrics))

	// Health endpoints
	r.Get("/health", h.health)
	r.Get("/readiness", h.readiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", h.listCalls)
			r.Get("/{callID}", h.getCall)
			r.Delete("/{callID}", h.deleteCall)
			r.Post("/{callID}/analyze-realtime", h.analyzeRealtime)
			r.Post("/{callID}/analyze", h.reanalyze)
		})
		r.Get("/analyses", h.listAnalyses)
		r.Post("/upload", h.upload)

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/meet", h.meetWebhook)
			r.Post("/twilio/voice", h.twilioVoice)
			r.Get("/twilio/media", h.twilioMedia)
			r.Post("/twilio", h.twilioStatus)
		})
	})

	return r
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": serviceName})
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
