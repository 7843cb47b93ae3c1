// Command transcript-viewer consumes transcription events from Kafka and
// shows them in the browser over a WebSocket.
package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"conversation-transcriber-service/internal/models"
)

//go:embed static/*
var staticFiles embed.FS

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// decodeEvent parses a Kafka message value.
func decodeEvent(value []byte) (models.TranscriptEvent, error) {
	var ev models.TranscriptEvent
	err := json.Unmarshal(value, &ev)
	return ev, err
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) error {
	// Use partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming from Kafka")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable event")
			continue
		}

		log.Debug().
			Str("eventType", ev.EventType).
			Str("conversationId", ev.ConversationID).
			Str("speakerId", ev.SpeakerID).
			Str("text", truncate(ev.Text, 40)).
			Msg("Received event")
		select {
		case hub.broadcast <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topics := flag.String("topics", "conversation.transcript.partial,conversation.transcript.final,conversation.session", "Kafka topics (comma-separated)")
	since := flag.Duration("since", time.Hour, "replay events newer than this")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	hub := newHub()
	go hub.run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mux := http.NewServeMux()
	staticFS, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))
	server := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range strings.Split(*topics, ",") {
		topic := strings.TrimSpace(topic)
		g.Go(func() error {
			return consumeKafka(gctx, hub, strings.Split(*brokers, ","), topic, *since)
		})
	}
	g.Go(func() error {
		log.Info().Str("url", "http://localhost:"+*port).Str("brokers", *brokers).Msg("Transcript viewer starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Transcript viewer failed")
	}
}
