// Package audio converts buffered telephony audio into files the STT
// engines accept.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"call-monitoring-service/internal/observability/metrics"
)

// Converter turns a raw 8 kHz mono µ-law file into a 16 kHz mono PCM WAV file.
type Converter interface {
	Convert(ctx context.Context, inPath, outPath string) error
	Name() string
}

// Normalizer decodes any container or codec ffmpeg understands into a
// 16 kHz mono PCM WAV file.
type Normalizer interface {
	Normalize(ctx context.Context, inPath, outPath string) error
}

// ConversionError reports a failed conversion. Stderr holds the converter's
// diagnostic output when there is any.
type ConversionError struct {
	Converter string
	Stderr    string
	Err       error
}

func (e *ConversionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("audio conversion failed (%s): %v: %s", e.Converter, e.Err, e.Stderr)
	}
	return fmt.Sprintf("audio conversion failed (%s): %v", e.Converter, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// FFmpegConverter shells out to ffmpeg.
type FFmpegConverter struct {
	Path string // binary, defaults to "ffmpeg" on PATH
}

// NewFFmpegConverter returns a converter using the ffmpeg binary at path.
func NewFFmpegConverter(path string) *FFmpegConverter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegConverter{Path: path}
}

// Name implements Converter.
func (c *FFmpegConverter) Name() string { return "ffmpeg" }

// Args returns the ffmpeg arguments for one conversion.
func (c *FFmpegConverter) Args(inPath, outPath string) []string {
	return []string{
		"-y",
		"-f", "mulaw", "-ar", "8000", "-ac", "1",
		"-i", inPath,
		"-ar", "16000", "-ac", "1",
		outPath,
	}
}

// NormalizeArgs returns the ffmpeg arguments for decoding an arbitrary
// recording to 16 kHz mono PCM.
func (c *FFmpegConverter) NormalizeArgs(inPath, outPath string) []string {
	return []string{
		"-y",
		"-i", inPath,
		"-vn",
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		outPath,
	}
}

// Convert implements Converter. It waits for ffmpeg to exit.
func (c *FFmpegConverter) Convert(ctx context.Context, inPath, outPath string) error {
	return c.run(ctx, c.Args(inPath, outPath))
}

// Normalize implements Normalizer.
func (c *FFmpegConverter) Normalize(ctx context.Context, inPath, outPath string) error {
	return c.run(ctx, c.NormalizeArgs(inPath, outPath))
}

func (c *FFmpegConverter) run(ctx context.Context, args []string) error {
	start := time.Now()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		err = &ConversionError{Converter: c.Name(), Stderr: lastLines(stderr.String(), 5), Err: err}
	}
	metrics.DefaultMetrics.RecordConversion(c.Name(), err, time.Since(start).Seconds())
	return err
}

// lastLines keeps the tail of ffmpeg's banner-heavy stderr.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
