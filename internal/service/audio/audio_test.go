package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestDecodeUlaw(t *testing.T) {
	tests := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0},
		{0x00, -32124},
		{0x80, 32124},
		{0xF0, 120},
		{0x70, -120},
	}

	for _, tt := range tests {
		if got := DecodeUlaw([]byte{tt.in})[0]; got != tt.want {
			t.Errorf("DecodeUlaw(%#x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUpsample(t *testing.T) {
	got := Upsample([]int16{0, 100, -100}, 2)
	want := []int16{0, 50, 100, 0, -100, -100}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	in := []int16{1, 2}
	if out := Upsample(in, 1); len(out) != 2 {
		t.Errorf("expected factor 1 to be a no-op, got %v", out)
	}
}

func TestWriteWAV_Header(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, []int16{1, -1, 2}, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	b := buf.Bytes()

	if len(b) != 44+6 {
		t.Fatalf("expected 50 bytes, got %d", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 16000 {
		t.Errorf("expected rate 16000, got %d", rate)
	}
	if n := binary.LittleEndian.Uint32(b[40:44]); n != 6 {
		t.Errorf("expected data length 6, got %d", n)
	}
	if s := int16(binary.LittleEndian.Uint16(b[46:48])); s != -1 {
		t.Errorf("expected second sample -1, got %d", s)
	}
}

func TestNativeConverter_Convert(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.raw")
	out := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(in, bytes.Repeat([]byte{0xFF, 0x80}, 400), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := (NativeConverter{}).Convert(context.Background(), in, out); err != nil {
		t.Fatalf("convert: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	// 800 µ-law bytes -> 1600 samples at 16 kHz -> 3200 data bytes
	if info.Size() != 44+3200 {
		t.Errorf("expected %d bytes, got %d", 44+3200, info.Size())
	}
}

func TestNativeConverter_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.raw")
	os.WriteFile(empty, nil, 0o600)

	for _, in := range []string{filepath.Join(dir, "missing.raw"), empty} {
		err := (NativeConverter{}).Convert(context.Background(), in, filepath.Join(dir, "out.wav"))
		var ce *ConversionError
		if !errors.As(err, &ce) {
			t.Errorf("%s: expected *ConversionError, got %v", in, err)
		}
	}
}

func TestFFmpegConverter_Args(t *testing.T) {
	c := NewFFmpegConverter("")
	if c.Path != "ffmpeg" {
		t.Errorf("expected default path ffmpeg, got %s", c.Path)
	}
	want := []string{"-y", "-f", "mulaw", "-ar", "8000", "-ac", "1", "-i", "a.raw", "-ar", "16000", "-ac", "1", "b.wav"}
	got := c.Args("a.raw", "b.wav")
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestFFmpegConverter_NormalizeArgs(t *testing.T) {
	want := []string{"-y", "-i", "call.m4a", "-vn", "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", "call.wav"}
	got := NewFFmpegConverter("").NormalizeArgs("call.m4a", "call.wav")
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestFFmpegConverter_NormalizeNonZeroExit(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	err = NewFFmpegConverter(bin).Normalize(context.Background(), "in.m4a", "out.wav")

	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConversionError, got %v", err)
	}
}

func TestFFmpegConverter_NonZeroExit(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	err = NewFFmpegConverter(bin).Convert(context.Background(), "in.raw", "out.wav")

	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConversionError, got %v", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("expected wrapped *exec.ExitError, got %v", ce.Err)
	}
}

func TestFFmpegConverter_RealBinary(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.raw")
	out := filepath.Join(dir, "out.wav")
	os.WriteFile(in, bytes.Repeat([]byte{0xFF}, 8000), 0o600)

	if err := NewFFmpegConverter("").Convert(context.Background(), in, out); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}

func TestFFmpegConverter_NormalizeRealBinary(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err = WriteWAV(f, make([]int16, 8000), 8000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := NewFFmpegConverter("").Normalize(context.Background(), in, out); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("expected 16000 Hz output, got %d", rate)
	}
}

func TestLastLines(t *testing.T) {
	if got := lastLines("a\nb\nc\n", 2); got != "b\nc" {
		t.Errorf("expected last two lines, got %q", got)
	}
}
