// Package google provides a Google Cloud Speech-to-Text engine.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/service/stt"
)

const engineName = "google"

// Config holds Google STT recognition settings.
type Config struct {
	LanguageCode  string // BCP-47 language code
	SampleRateHz  int32  // sample rate of the audio files handed to the engine
	AudioEncoding string // RecognitionConfig_AudioEncoding name, e.g. LINEAR16
}

// DefaultConfig returns the recognition settings used for converted call audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// Engine implements stt.Engine using long-running recognition.
// The client is created on first use so the service starts without
// credentials when Google is not the selected engine.
type Engine struct {
	cfg    Config
	client *stt.Lazy[*speech.Client]
}

// New creates a Google STT engine. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS unless opts override them.
func New(cfg Config, opts ...option.ClientOption) *Engine {
	return &Engine{
		cfg: cfg,
		client: stt.NewLazy(func(ctx context.Context) (*speech.Client, error) {
			// the client outlives the request that triggered its creation
			return speech.NewClient(context.WithoutCancel(ctx), opts...)
		}),
	}
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return engineName }

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	client, err := e.client.Get(ctx)
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, fmt.Errorf("create client: %w", err))
	}

	op, err := client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(e.cfg.AudioEncoding),
			SampleRateHertz:            e.cfg.SampleRateHz,
			LanguageCode:               e.cfg.LanguageCode,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	})
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, stt.NewError(engineName, audioPath, err)
	}

	return models.NewTranscript(segmentsFromResults(resp.GetResults())), nil
}

// Close releases the client if it was created.
func (e *Engine) Close() error {
	if c, ok := e.client.Peek(); ok {
		return c.Close()
	}
	return nil
}

// segmentsFromResults maps recognition results to unattributed segments.
// A result starts where the previous one ended unless word offsets say
// otherwise; starts never go backwards.
func segmentsFromResults(results []*speechpb.SpeechRecognitionResult) []models.SegmentInput {
	segs := make([]models.SegmentInput, 0, len(results))
	var prevEnd time.Duration
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start := prevEnd
		if words := alt.GetWords(); len(words) > 0 && words[0].GetStartTime() != nil {
			if ws := words[0].GetStartTime().AsDuration(); ws > start {
				start = ws
			}
		}
		end := start
		if r.GetResultEndTime() != nil {
			if re := r.GetResultEndTime().AsDuration(); re > end {
				end = re
			}
		}

		segs = append(segs, models.SegmentInput{
			Speaker: models.SpeakerUnknown,
			Text:    text,
			StartMs: models.Int64(start.Milliseconds()),
			EndMs:   models.Int64(end.Milliseconds()),
		})
		prevEnd = end
	}
	return segs
}

// parseAudioEncoding converts a string to the corresponding AudioEncoding enum.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "MP3":
		return speechpb.RecognitionConfig_MP3
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
