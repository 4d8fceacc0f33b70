package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"call-monitoring-service/internal/observability/metrics"
)

const (
	telephonyRate = 8000
	outputRate    = 16000
)

// NativeConverter decodes µ-law and writes a 16 kHz WAV without external tools.
type NativeConverter struct{}

// Name implements Converter.
func (NativeConverter) Name() string { return "native" }

// Convert implements Converter.
func (c NativeConverter) Convert(ctx context.Context, inPath, outPath string) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			err = &ConversionError{Converter: c.Name(), Err: err}
		}
		metrics.DefaultMetrics.RecordConversion(c.Name(), err, time.Since(start).Seconds())
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty input %s", inPath)
	}

	pcm := Upsample(DecodeUlaw(raw), outputRate/telephonyRate)

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err = WriteWAV(f, pcm, outputRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
