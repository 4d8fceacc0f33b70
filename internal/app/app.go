// Package app wires the service together and owns the process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "call-monitoring-service/internal/api/grpc"
	"call-monitoring-service/internal/config"
	"call-monitoring-service/internal/events"
	httpapi "call-monitoring-service/internal/http"
	"call-monitoring-service/internal/observability"
	"call-monitoring-service/internal/observability/logging"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/schema"
	"call-monitoring-service/internal/service/analysis"
	"call-monitoring-service/internal/service/audio"
	"call-monitoring-service/internal/service/llm"
	"call-monitoring-service/internal/service/meet"
	"call-monitoring-service/internal/service/stream"
	"call-monitoring-service/internal/service/stt"
	"call-monitoring-service/internal/service/stt/google"
	"call-monitoring-service/internal/service/stt/mock"
	"call-monitoring-service/internal/service/stt/whisper"
	"call-monitoring-service/internal/service/upload"
	"call-monitoring-service/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Store        *store.Store
	Publisher    *events.Publisher
	Orchestrator *pipeline.Orchestrator
	Handler      http.Handler

	sessions   stream.Tracker
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
	obsServer  *observability.Server
	closers    []io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs the application and every component it serves.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	a := &Application{Cfg: cfg}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	st, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.Store = st

	if err = a.build(); err != nil {
		st.Close()
		return nil, err
	}

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("llmProvider", cfg.LLM.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Call monitoring application created")
	return a, nil
}

func (a *Application) build() error {
	cfg := a.Cfg

	a.Publisher = events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicIngested: cfg.Kafka.TopicIngested,
		TopicAnalyzed: cfg.Kafka.TopicAnalyzed,
		Principal:     cfg.Kafka.Principal,
	})

	analyzer, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}

	a.Orchestrator = pipeline.New(a.Store, analysis.NewService(analyzer), a.Publisher,
		pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize),
		pipeline.Config{RetryMaxElapsed: cfg.Pipeline.RetryMaxElapse})

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	converter, err := newConverter(cfg.Stream)
	if err != nil {
		return err
	}

	validator, err := schema.New()
	if err != nil {
		return err
	}

	limits := stream.Limits{MaxAudioBytes: cfg.Stream.MaxAudioBytes, MaxDuration: cfg.Stream.MaxDuration}
	ids := stream.NewGenerator()

	deps := httpapi.Deps{
		Store:     a.Store,
		Pipeline:  a.Orchestrator,
		Uploads:   upload.NewProcessor(engine, uploadNormalizer(converter), a.Orchestrator, cfg.Service.MaxUploadMB<<20),
		Validator: validator,
		Sessions: func() httpapi.StreamRunner {
			return stream.NewSession(ids.Next(), converter, engine, a.Orchestrator, limits)
		},
		PublicWSURL:    cfg.Service.PublicWSURL,
		CORSOrigins:    cfg.Service.CORSOrigins,
		MaxSessions:    cfg.Stream.MaxSessions,
		Tracker:        &a.sessions,
		MaxUploadBytes: cfg.Service.MaxUploadMB << 20,
	}
	if cfg.Meet.CredentialsFile != "" {
		deps.Meet = meet.New(meet.Config{
			CredentialsFile: cfg.Meet.CredentialsFile,
			AgentMarker:     cfg.Meet.AgentMarker,
			Endpoint:        cfg.Meet.Endpoint,
		})
	} else {
		a.Logger.Info().Msg("Google Meet credentials not configured, conference fetches disabled")
	}
	a.Handler = httpapi.NewRouter(deps)

	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.grpcServer, a.grpcHealth = grpcapi.NewServer(a.Store, metrics.DefaultMetrics)
	a.obsServer = observability.NewServer(":"+cfg.Observability.MetricsPort, a.Store.Ping)
	return nil
}

// newEngine builds the configured STT engine, wrapped with the fallback
// engine when one is set and bounded by the configured concurrency.
func (a *Application) newEngine() (stt.Engine, error) {
	primary, err := a.engineByName(a.Cfg.STT.Provider)
	if err != nil {
		return nil, err
	}
	engine := primary
	if fb := a.Cfg.STT.FallbackProvider; fb != "" && !strings.EqualFold(fb, a.Cfg.STT.Provider) {
		fallback, fbErr := a.engineByName(fb)
		if fbErr != nil {
			return nil, fbErr
		}
		engine = stt.WithFallback(primary, fallback)
	}
	return stt.Limit(engine, a.Cfg.STT.Concurrency), nil
}

func (a *Application) engineByName(name string) (stt.Engine, error) {
	cfg := a.Cfg.STT
	switch strings.ToLower(name) {
	case "whisper":
		return whisper.New(whisper.Config{
			BaseURL:   cfg.WhisperURL,
			ModelPath: cfg.WhisperModelPath,
			Language:  whisperLanguage(cfg.LanguageCode),
			Timeout:   cfg.WhisperTimeout,
		}), nil
	case "google":
		e := google.New(google.Config{
			LanguageCode:  cfg.LanguageCode,
			SampleRateHz:  int32(cfg.SampleRateHz),
			AudioEncoding: cfg.AudioEncoding,
		})
		a.closers = append(a.closers, e)
		return e, nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", name)
	}
}

// whisperLanguage reduces a BCP-47 tag such as en-US to its language code.
func whisperLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}

func newConverter(cfg config.StreamConfig) (audio.Converter, error) {
	switch strings.ToLower(cfg.Converter) {
	case "ffmpeg", "":
		return audio.NewFFmpegConverter(cfg.FFmpegPath), nil
	case "native":
		return audio.NativeConverter{}, nil
	default:
		return nil, fmt.Errorf("unknown audio converter %q", cfg.Converter)
	}
}

// uploadNormalizer returns the converter when it can decode arbitrary
// recordings. Without ffmpeg, uploads reach the engine undecoded.
func uploadNormalizer(c audio.Converter) audio.Normalizer {
	if n, ok := c.(audio.Normalizer); ok {
		return n
	}
	log.Warn().Str("converter", c.Name()).Msg("Uploads are transcribed without normalization")
	return nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	})

	a.Logger = logging.WithComponent("application").With().
		Str("service", a.Cfg.Service.Principal).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start serves HTTP, gRPC and observability traffic until ctx is cancelled,
// then shuts everything down.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpPort", a.Cfg.Service.HTTPPort).
		Str("grpcPort", a.Cfg.Service.GRPCPort).
		Str("metricsPort", a.Cfg.Observability.MetricsPort).
		Msg("Call monitoring service starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(a.obsServer.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops accepting traffic, drains in-flight analyses and releases
// resources. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		shutdownLogger := a.Logger.With().
			Str("method", "Shutdown").
			Logger()
		shutdownLogger.Info().Msg("Call monitoring service shutting down")

		var errs []error
		if a.grpcHealth != nil {
			a.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		}
		if a.httpServer != nil {
			errs = append(errs, a.httpServer.Shutdown(ctx))
		}
		if a.grpcServer != nil {
			a.grpcServer.GracefulStop()
		}
		if a.obsServer != nil {
			errs = append(errs, a.obsServer.Shutdown(ctx))
		}
		// Hijacked media sockets outlive httpServer.Shutdown; their sessions
		// still ingest into the pipeline and store.
		if err := a.sessions.Wait(ctx); err != nil {
			shutdownLogger.Warn().Int("sessions", a.sessions.Running()).Msg("Media sessions still running at shutdown")
			errs = append(errs, fmt.Errorf("wait for media sessions: %w", err))
		}
		if a.Orchestrator != nil {
			errs = append(errs, a.Orchestrator.Close(ctx))
		}
		if a.Publisher != nil {
			errs = append(errs, a.Publisher.Close())
		}
		for _, c := range a.closers {
			errs = append(errs, c.Close())
		}
		if a.Store != nil {
			errs = append(errs, a.Store.Close())
		}

		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr != nil {
			shutdownLogger.Error().Err(a.shutdownErr).Msg("Shutdown completed with errors")
			return
		}
		shutdownLogger.Info().Msg("Shutdown complete")
	})
	return a.shutdownErr
}
