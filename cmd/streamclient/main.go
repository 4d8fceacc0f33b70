// Command streamclient replays an 8 kHz µ-law recording against the Twilio
// media stream endpoint the way a live phone call would.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Twilio sends 20ms frames: 160 bytes of 8 kHz µ-law.
const (
	frameSize     = 160
	frameInterval = 20 * time.Millisecond
)

const wavFormatMulaw = 7

type startMsg struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"start"`
}

type mediaMsg struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.ulaw", "Raw µ-law file or µ-law WAV (8kHz mono)")
	server := flag.String("server", "ws://localhost:8000/api/v1/webhooks/twilio/media", "Media stream WebSocket URL")
	callSid := flag.String("call", "CA"+time.Now().Format("150405"), "Call SID")
	realtime := flag.Bool("realtime", true, "Pace frames at 20ms like a live call")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	data, err := readMulaw(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *audioFile).Msg("Failed to read audio")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*server, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *server).Msg("Failed to connect")
	}
	defer conn.Close()

	streamSid := "MZ" + *callSid
	if err = conn.WriteJSON(map[string]string{"event": "connected", "protocol": "Call"}); err != nil {
		log.Fatal().Err(err).Msg("Failed to send connected")
	}
	start := startMsg{Event: "start", StreamSid: streamSid}
	start.Start.StreamSid = streamSid
	start.Start.CallSid = *callSid
	if err = conn.WriteJSON(start); err != nil {
		log.Fatal().Err(err).Msg("Failed to send start")
	}

	log.Info().Str("callSid", *callSid).Int("bytes", len(data)).Msg("Streaming audio")

	began := time.Now()
	frames := 0
	for off := 0; off < len(data); off += frameSize {
		end := min(off+frameSize, len(data))
		msg := mediaMsg{Event: "media", StreamSid: streamSid}
		msg.Media.Payload = base64.StdEncoding.EncodeToString(data[off:end])
		if err = conn.WriteJSON(msg); err != nil {
			log.Fatal().Err(err).Int("frame", frames).Msg("Failed to send media")
		}
		frames++
		if frames%250 == 0 {
			log.Info().Int("frames", frames).Dur("offset", time.Duration(frames)*frameInterval).Msg("Sent frames")
		}
		if *realtime {
			time.Sleep(frameInterval)
		}
	}

	if err = conn.WriteJSON(map[string]string{"event": "stop", "streamSid": streamSid}); err != nil {
		log.Fatal().Err(err).Msg("Failed to send stop")
	}
	log.Info().
		Int("frames", frames).
		Dur("elapsed", time.Since(began)).
		Msg("Stream finished; the call appears under source live_stream once transcribed")
}

// readMulaw returns the µ-law samples of a raw file or the data chunk of a
// µ-law WAV file.
func readMulaw(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return raw, nil
	}

	var format uint16
	var rate uint32
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch id {
		case "fmt ":
			if size < 8 {
				return nil, fmt.Errorf("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(raw[body : body+2])
			rate = binary.LittleEndian.Uint32(raw[body+4 : body+8])
		case "data":
			if format != wavFormatMulaw {
				return nil, fmt.Errorf("wav format %d is not µ-law", format)
			}
			if rate != 8000 {
				log.Warn().Uint32("sampleRate", rate).Msg("Sample rate is not 8000 Hz")
			}
			return raw[body : body+size], nil
		}
		pos = body + size + size%2
	}
	return nil, io.ErrUnexpectedEOF
}
