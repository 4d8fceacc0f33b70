// Package upload turns an uploaded recording into a persisted call.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
	"call-monitoring-service/internal/pipeline"
	"call-monitoring-service/internal/service/audio"
	"call-monitoring-service/internal/service/stt"
)

// AllowedExtensions lists the accepted recording extensions.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".mp4"}

// ValidationError reports an upload rejected before any work was done.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Ingester persists a finished transcript.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// Processor transcribes uploads and hands them to the pipeline.
type Processor struct {
	engine     stt.Engine
	normalizer audio.Normalizer
	ingester   Ingester
	maxBytes   int64
	metrics    *metrics.Metrics

	// TempDir holds uploads while they are transcribed; empty means os.TempDir.
	TempDir string
}

// NewProcessor creates a processor. Uploads are decoded to 16 kHz mono WAV
// by normalizer before transcription; a nil normalizer hands the upload to
// the engine as is. maxBytes <= 0 disables the size check.
func NewProcessor(engine stt.Engine, normalizer audio.Normalizer, ingester Ingester, maxBytes int64) *Processor {
	return &Processor{
		engine:     engine,
		normalizer: normalizer,
		ingester:   ingester,
		maxBytes:   maxBytes,
		metrics:    metrics.DefaultMetrics,
	}
}

// Allowed reports whether fileName has an accepted extension.
func Allowed(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Process stores r under a temp file, transcribes it and ingests the result
// with fileName as the external id. It returns the call id and transcript text.
func (p *Processor) Process(ctx context.Context, fileName string, r io.Reader) (string, string, error) {
	if !Allowed(fileName) {
		p.metrics.UploadsRejected.Inc()
		return "", "", &ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("unsupported extension %q, allowed: %s", filepath.Ext(fileName), strings.Join(AllowedExtensions, ", ")),
		}
	}

	path, err := p.spool(fileName, r)
	if err != nil {
		return "", "", err
	}
	defer os.Remove(path)

	meta := readMetadata(path)
	meta["filename"] = fileName

	audioPath := path
	if p.normalizer != nil {
		audioPath = strings.TrimSuffix(path, filepath.Ext(path)) + ".norm.wav"
		defer os.Remove(audioPath)
		if err = p.normalizer.Normalize(ctx, path, audioPath); err != nil {
			return "", "", err
		}
	}

	transcript, err := p.engine.Transcribe(ctx, audioPath)
	if err != nil {
		return "", "", err
	}

	res, err := p.ingester.Ingest(ctx, pipeline.IngestRequest{
		Source:     models.SourceUpload,
		ExternalID: fileName,
		Metadata:   meta,
		Transcript: transcript,
	})
	if err != nil {
		return "", "", err
	}

	log.Info().
		Str("callId", res.CallID).
		Str("file", fileName).
		Int("segments", res.SegmentCount).
		Msg("Upload processed")
	return res.CallID, res.FullText, nil
}

func (p *Processor) spool(fileName string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(p.TempDir, "upload-*"+strings.ToLower(filepath.Ext(fileName)))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	src := r
	if p.maxBytes > 0 {
		src = io.LimitReader(r, p.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if p.maxBytes > 0 && n > p.maxBytes {
		os.Remove(f.Name())
		p.metrics.UploadsRejected.Inc()
		return "", &ValidationError{Field: "file", Reason: fmt.Sprintf("larger than %d bytes", p.maxBytes)}
	}
	return f.Name(), nil
}

// readMetadata collects container tags. Files without tags yield only the
// detected format fields, if any.
func readMetadata(path string) map[string]any {
	meta := map[string]any{}

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if !errors.Is(err, tag.ErrNoTagsFound) {
			log.Debug().Err(err).Str("path", path).Msg("Unreadable audio tags")
		}
		return meta
	}

	if m.Format() != tag.UnknownFormat {
		meta["format"] = string(m.Format())
	}
	if m.FileType() != tag.UnknownFileType {
		meta["file_type"] = string(m.FileType())
	}
	if v := m.Title(); v != "" {
		meta["title"] = v
	}
	if v := m.Artist(); v != "" {
		meta["artist"] = v
	}
	if v := m.Album(); v != "" {
		meta["album"] = v
	}
	return meta
}
