package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/logging"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/service/audio"
	"call-monitoring-service/internal/service/stt"
)

// Failure reasons reported in metrics.
const (
	ReasonNoAudio       = "no_audio"
	ReasonConversion    = "conversion"
	ReasonTranscription = "transcription"
	ReasonIngest        = "ingest"
	ReasonInternal      = "internal"
)

// Conn is the inbound side of a media socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Ingester persists a finished transcript.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// Limits bounds what one session buffers. Zero disables a limit.
type Limits struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 64 * 1024 * 1024, // ~2.3h of 8 kHz µ-law
		MaxDuration:   2 * time.Hour,
	}
}

// ErrNoAudio is returned when a stream ends without media.
var ErrNoAudio = errors.New("stream ended without audio")

type envelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"start"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Session consumes one media stream. A session is single use.
type Session struct {
	id        string
	converter audio.Converter
	engine    stt.Engine
	ingester  Ingester
	limits    Limits
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	now       func() time.Time

	streamSid string
	callSid   string
	chunks    [][]byte
	bytes     int64
	startedAt time.Time
	limitHit  bool

	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewSession creates a session. id labels the session in logs until a
// streamSid arrives.
func NewSession(id string, converter audio.Converter, engine stt.Engine, ingester Ingester, limits Limits) *Session {
	return &Session{
		id:        id,
		converter: converter,
		engine:    engine,
		ingester:  ingester,
		limits:    limits,
		lifecycle: NewLifecycle(),
		metrics:   metrics.DefaultMetrics,
		now:       time.Now,
		logger:    logging.WithComponent("stream").With().Str("session", id).Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Run reads conn until the stream ends, then converts, transcribes and
// ingests the buffered audio. It returns the persisted call id. conn is
// closed exactly once and all temporary files are removed before Run returns.
func (s *Session) Run(ctx context.Context, conn Conn) (string, error) {
	s.startedAt = s.now()
	s.metrics.RecordStreamStart()

	s.read(conn)
	if err := s.lifecycle.BeginClose(); err != nil {
		s.logger.Warn().Err(err).Msg("Unexpected state at end of stream")
	}
	s.closeConn(conn)

	callID, reason, err := s.finish(ctx)
	s.metrics.RecordStreamEnd(reason, s.now().Sub(s.startedAt).Seconds())
	if err != nil {
		s.lifecycle.Fail()
		s.logger.Error().
			Err(err).
			Str("reason", reason).
			Int("chunks", len(s.chunks)).
			Msg("Stream session failed")
		return "", err
	}

	if err := s.lifecycle.Complete(callID); err != nil {
		s.lifecycle.Fail()
		return "", err
	}
	s.logger.Info().Str("callId", callID).Int64("bytes", s.bytes).Msg("Stream session completed")
	return callID, nil
}

func (s *Session) read(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Stream read ended")
			}
			return
		}
		if done := s.handle(data); done {
			return
		}
	}
}

// handle processes one envelope and reports whether the stream ended.
func (s *Session) handle(data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring malformed stream message")
		return false
	}

	switch env.Event {
	case "connected":
		s.logger.Debug().Msg("Stream connected")
	case "start":
		if err := s.lifecycle.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring repeated start")
			return false
		}
		s.streamSid = env.StreamSid
		if env.Start != nil {
			if s.streamSid == "" {
				s.streamSid = env.Start.StreamSid
			}
			s.callSid = env.Start.CallSid
		}
		s.logger = logging.WithStream(s.streamSid, s.callSid).With().Str("session", s.id).Logger()
		s.logger.Info().Msg("Stream started")
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring undecodable media payload")
			return false
		}
		s.buffer(chunk)
	case "closed", "stop":
		return true
	default:
		s.logger.Debug().Str("event", env.Event).Msg("Ignoring stream event")
	}
	return false
}

func (s *Session) buffer(chunk []byte) {
	if s.limitHit || !s.lifecycle.CanBuffer() {
		return
	}
	if s.limits.MaxAudioBytes > 0 && s.bytes+int64(len(chunk)) > s.limits.MaxAudioBytes {
		s.stopBuffering("audio_bytes")
		return
	}
	if s.limits.MaxDuration > 0 && s.now().Sub(s.startedAt) > s.limits.MaxDuration {
		s.stopBuffering("duration")
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.bytes += int64(len(chunk))
	s.metrics.RecordAudioReceived(len(chunk))
}

func (s *Session) stopBuffering(limit string) {
	s.limitHit = true
	s.metrics.RecordLimitExceeded(limit)
	s.logger.Warn().
		Str("limit", limit).
		Int64("bytes", s.bytes).
		Msg("Stream limit exceeded, ignoring further media")
}

func (s *Session) closeConn(conn Conn) {
	s.closeOnce.Do(func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Close stream connection")
		}
	})
}

func (s *Session) finish(ctx context.Context) (string, string, error) {
	if len(s.chunks) == 0 {
		return "", ReasonNoAudio, ErrNoAudio
	}

	dir, err := os.MkdirTemp("", "stream-*")
	if err != nil {
		return "", ReasonInternal, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	rawPath := filepath.Join(dir, "audio.raw")
	if err := os.WriteFile(rawPath, bytes.Join(s.chunks, nil), 0o600); err != nil {
		return "", ReasonInternal, fmt.Errorf("write raw audio: %w", err)
	}

	wavPath := filepath.Join(dir, "audio.wav")
	if err := s.converter.Convert(ctx, rawPath, wavPath); err != nil {
		return "", ReasonConversion, err
	}

	transcript, err := s.engine.Transcribe(ctx, wavPath)
	if err != nil {
		return "", ReasonTranscription, err
	}

	externalID := s.callSid
	if externalID == "" {
		externalID = s.streamSid
	}
	started, ended := s.startedAt.UTC(), s.now().UTC()
	res, err := s.ingester.Ingest(ctx, pipeline.IngestRequest{
		Source:     models.SourceLiveStream,
		ExternalID: externalID,
		StartedAt:  &started,
		EndedAt:    &ended,
		Metadata: map[string]any{
			"stream_sid":  s.streamSid,
			"call_sid":    s.callSid,
			"audio_bytes": s.bytes,
			"truncated":   s.limitHit,
		},
		Transcript: transcript,
	})
	if err != nil {
		return "", ReasonIngest, err
	}
	return res.CallID, "", nil
}
