// Analysis Viewer - live call ingestion and analysis display.
// Consumes call events from Kafka and pushes them to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// partition reader without a consumer group so every viewer sees every event
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Printf("Could not seek %s to last hour: %v", topic, err)
	}

	log.Printf("Consuming from Kafka topic: %s partition 0 (last hour)", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var event CallEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}

		log.Printf("Received %s for %s: %s", event.EventType, event.CallID, describe(event))
		hub.broadcast <- event
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicIngested := flag.String("topic-ingested", "call.ingested", "Ingested calls topic")
	topicAnalyzed := flag.String("topic-analyzed", "call.analyzed", "Analyses topic")
	flag.Parse()

	hub := newHub()
	go hub.run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go consumeKafka(ctx, hub, *brokers, *topicIngested)
	go consumeKafka(ctx, hub, *brokers, *topicAnalyzed)

	staticFS, _ := fs.Sub(staticFiles, "static")
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Analysis Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicIngested, *topicAnalyzed)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
