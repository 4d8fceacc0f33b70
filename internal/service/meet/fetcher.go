// Package meet pulls finished conference transcripts from the Google Meet
// REST API and maps them onto transcript segments.
package meet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	meetapi "google.golang.org/api/meet/v2"
	"google.golang.org/api/option"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
)

// ErrNoCredentials is wrapped in a RemoteFetchError when the fetcher has no
// way to authenticate.
var ErrNoCredentials = errors.New("google meet credentials not configured")

// RemoteFetchError reports a failed transcript fetch.
type RemoteFetchError struct {
	ConferenceID string
	StatusCode   int // 0 when no HTTP response was received
	Err          error
}

func (e *RemoteFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch meet transcript %s: status %d: %v", e.ConferenceID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch meet transcript %s: %v", e.ConferenceID, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// Config configures the fetcher.
type Config struct {
	CredentialsFile string
	AgentMarker     string // participant names containing it are agents
	Endpoint        string // overrides the API base URL

	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AgentMarker:          "agent",
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxElapsed:      30 * time.Second,
	}
}

// Fetcher reads transcripts of finished conferences.
type Fetcher struct {
	cfg     Config
	opts    []option.ClientOption
	metrics *metrics.Metrics
}

// New creates a fetcher. opts are passed to the Meet client after the
// options derived from cfg.
func New(cfg Config, opts ...option.ClientOption) *Fetcher {
	def := DefaultConfig()
	if cfg.AgentMarker == "" {
		cfg.AgentMarker = def.AgentMarker
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = def.RetryMaxElapsed
	}
	return &Fetcher{cfg: cfg, opts: opts, metrics: metrics.DefaultMetrics}
}

type rawEntry struct {
	participant string
	text        string
	start, end  string
}

// Fetch returns the segments of every transcript of conferenceID in API order.
func (f *Fetcher) Fetch(ctx context.Context, conferenceID string) ([]models.SegmentInput, error) {
	parent := conferenceID
	if !strings.HasPrefix(parent, "conferenceRecords/") {
		parent = "conferenceRecords/" + parent
	}

	segs, err := f.fetch(ctx, parent)
	if err != nil {
		f.metrics.RemoteFetchErrors.Inc()
		rfe := &RemoteFetchError{ConferenceID: conferenceID, Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			rfe.StatusCode = gerr.Code
		}
		return nil, rfe
	}
	return segs, nil
}

func (f *Fetcher) fetch(ctx context.Context, parent string) ([]models.SegmentInput, error) {
	svc, err := f.service(ctx)
	if err != nil {
		return nil, err
	}

	var transcripts []string
	err = f.retry(ctx, func() error {
		transcripts = transcripts[:0]
		return svc.ConferenceRecords.Transcripts.List(parent).Pages(ctx, func(resp *meetapi.ListTranscriptsResponse) error {
			for _, t := range resp.Transcripts {
				transcripts = append(transcripts, t.Name)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	names := f.participantNames(ctx, svc, parent)

	var entries []rawEntry
	for _, name := range transcripts {
		var page []rawEntry
		err = f.retry(ctx, func() error {
			page = page[:0]
			return svc.ConferenceRecords.Transcripts.Entries.List(name).Pages(ctx, func(resp *meetapi.ListTranscriptEntriesResponse) error {
				for _, e := range resp.TranscriptEntries {
					page = append(page, rawEntry{
						participant: e.Participant + " " + names[e.Participant],
						text:        e.Text,
						start:       e.StartTime,
						end:         e.EndTime,
					})
				}
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("list entries of %s: %w", name, err)
		}
		entries = append(entries, page...)
	}

	log.Info().
		Str("conference", parent).
		Int("transcripts", len(transcripts)).
		Int("entries", len(entries)).
		Msg("Fetched meet transcript")
	return toSegments(entries, f.cfg.AgentMarker), nil
}

func (f *Fetcher) service(ctx context.Context) (*meetapi.Service, error) {
	var opts []option.ClientOption
	if f.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(f.cfg.CredentialsFile))
	} else if len(f.opts) == 0 {
		return nil, ErrNoCredentials
	}
	if f.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(f.cfg.Endpoint))
	}
	opts = append(opts, f.opts...)

	svc, err := meetapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create meet client: %w", err)
	}
	return svc, nil
}

// participantNames maps participant resource names to display names. A
// failed lookup is not fatal; speakers then match on resource names only.
func (f *Fetcher) participantNames(ctx context.Context, svc *meetapi.Service, parent string) map[string]string {
	names := map[string]string{}
	err := svc.ConferenceRecords.Participants.List(parent).Pages(ctx, func(resp *meetapi.ListParticipantsResponse) error {
		for _, p := range resp.Participants {
			switch {
			case p.SignedinUser != nil:
				names[p.Name] = p.SignedinUser.DisplayName
			case p.AnonymousUser != nil:
				names[p.Name] = p.AnonymousUser.DisplayName
			case p.PhoneUser != nil:
				names[p.Name] = p.PhoneUser.DisplayName
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("conference", parent).Msg("Participant lookup failed")
	}
	return names
}

// retry runs op with exponential backoff while it fails with a 5xx.
func (f *Fetcher) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.RetryInitialInterval
	b.MaxElapsedTime = f.cfg.RetryMaxElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code >= 500 {
			log.Warn().Err(err).Int("status", gerr.Code).Msg("Meet API error, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func toSegments(entries []rawEntry, marker string) []models.SegmentInput {
	var base time.Time
	for _, e := range entries {
		if t, err := time.Parse(time.RFC3339Nano, e.start); err == nil && (base.IsZero() || t.Before(base)) {
			base = t
		}
	}

	marker = strings.ToLower(marker)
	segs := make([]models.SegmentInput, 0, len(entries))
	for _, e := range entries {
		speaker := models.SpeakerCustomer
		if marker != "" && strings.Contains(strings.ToLower(e.participant), marker) {
			speaker = models.SpeakerAgent
		}
		seg := models.SegmentInput{
			Speaker: speaker,
			Text:    e.text,
			StartMs: offsetMs(e.start, base),
			EndMs:   offsetMs(e.end, base),
		}
		if seg.StartMs != nil && seg.EndMs != nil && *seg.EndMs < *seg.StartMs {
			seg.EndMs = models.Int64(*seg.StartMs)
		}
		segs = append(segs, seg)
	}
	return segs
}

// offsetMs reads v as a duration ("12.5s") or as an RFC3339 timestamp
// relative to base. Anything else yields nil.
func offsetMs(v string, base time.Time) *int64 {
	if v == "" {
		return nil
	}
	if ms, ok := ParseDurationMs(v); ok {
		return models.Int64(ms)
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil && !base.IsZero() {
		return models.Int64(t.Sub(base).Milliseconds())
	}
	return nil
}

// ParseDurationMs parses a protobuf JSON duration such as "123.456s" into
// milliseconds.
func ParseDurationMs(v string) (int64, bool) {
	if !strings.HasSuffix(v, "s") {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64)
	if err != nil || secs < 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0, false
	}
	return int64(math.Round(secs * 1000)), true
}
