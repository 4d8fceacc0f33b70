// Command webhookclient posts a sample meeting transcript to the webhook
// endpoint and polls the call until its post-call analysis lands.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type segment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_time_ms"`
	EndMs   int64  `json:"end_time_ms"`
}

type webhook struct {
	Source       string    `json:"source,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	ConferenceID string    `json:"conference_id,omitempty"`
	Segments     []segment `json:"segments"`
}

var sampleSegments = []segment{
	{"agent", "Thanks for calling support, how can I help?", 0, 2800},
	{"customer", "I was charged twice for my subscription this month.", 3000, 6500},
	{"agent", "I'm sorry about that. I can see the duplicate charge and I've issued a refund.", 6800, 11200},
	{"customer", "Great, how long will that take?", 11500, 13000},
	{"agent", "Three to five business days. Is there anything else?", 13300, 16000},
}

func main() {
	server := flag.String("server", "http://localhost:8000", "Service base URL")
	conference := flag.String("conference", "", "Conference id; when set, segments are fetched from Google Meet instead")
	wait := flag.Duration("wait", 90*time.Second, "How long to wait for the analysis")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	body := webhook{
		ExternalID: "demo-" + time.Now().Format("150405"),
		Segments:   sampleSegments,
	}
	if *conference != "" {
		body = webhook{ConferenceID: *conference, Segments: []segment{}}
	}

	var ack struct {
		Received bool   `json:"received"`
		CallID   string `json:"call_id"`
		Error    string `json:"error"`
	}
	if err := postJSON(*server+"/api/v1/webhooks/meet", body, &ack); err != nil {
		log.Fatal().Err(err).Msg("Webhook request failed")
	}
	if !ack.Received {
		log.Fatal().Str("error", ack.Error).Msg("Webhook not accepted")
	}
	log.Info().Str("callId", ack.CallID).Msg("Call ingested, waiting for analysis")

	deadline := time.Now().Add(*wait)
	for time.Now().Before(deadline) {
		var call struct {
			Analyses []struct {
				Kind    string          `json:"analysis_type"`
				Payload json.RawMessage `json:"payload"`
			} `json:"analyses"`
		}
		if err := getJSON(*server+"/api/v1/calls/"+ack.CallID, &call); err != nil {
			log.Fatal().Err(err).Msg("Fetching call failed")
		}
		for _, a := range call.Analyses {
			if a.Kind == "post_call" {
				var pretty bytes.Buffer
				json.Indent(&pretty, a.Payload, "", "  ")
				fmt.Println(pretty.String())
				return
			}
		}
		time.Sleep(2 * time.Second)
	}
	log.Fatal().Dur("waited", *wait).Msg("No analysis yet; check the service logs for provider errors")
}

func postJSON(url string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
