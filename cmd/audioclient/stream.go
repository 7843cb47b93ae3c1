package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "conversation-transcriber-service/internal/api/grpc"
	"conversation-transcriber-service/internal/service/audio"
)

type streamOptions struct {
	server         string
	file           string
	conversationID string
	language       string
	participants   []string
	signatures     []string
	speaker        string
	chunk          time.Duration
	realtime       bool
	timeout        time.Duration
}

func newStreamCmd() *cobra.Command {
	o := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a WAV file and print transcription events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStream(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.server, "server", "localhost:50051", "gRPC server address")
	f.StringVarP(&o.file, "file", "f", "", "WAV file (16 kHz, 16-bit PCM)")
	f.StringVar(&o.conversationID, "conversation", "", "conversation id (generated by the server when empty)")
	f.StringVar(&o.language, "language", "", "recognition language (BCP-47)")
	f.StringArrayVarP(&o.participants, "participant", "p", nil, "participant as id or id:language (repeatable)")
	f.StringArrayVar(&o.signatures, "signature", nil, "voice signature as id=file.json (repeatable)")
	f.StringVar(&o.speaker, "speaker", "", "speaker hint sent with every chunk")
	f.DurationVar(&o.chunk, "chunk", 100*time.Millisecond, "play time per chunk")
	f.BoolVar(&o.realtime, "realtime", true, "pace chunks at their play time")
	f.DurationVar(&o.timeout, "timeout", 5*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (o *streamOptions) sessionConfig() (grpcapi.SessionConfig, error) {
	cfg := grpcapi.SessionConfig{ConversationID: o.conversationID, Language: o.language}

	sigs := make(map[string]string, len(o.signatures))
	for _, s := range o.signatures {
		id, path, ok := strings.Cut(s, "=")
		if !ok {
			return cfg, fmt.Errorf("signature %q: want id=file", s)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		sigs[id] = string(raw)
	}

	for _, p := range o.participants {
		id, lang, _ := strings.Cut(p, ":")
		cfg.Participants = append(cfg.Participants, grpcapi.ParticipantSpec{
			UserID:    id,
			Language:  lang,
			Signature: sigs[id],
		})
	}
	return cfg, nil
}

func runStream(ctx context.Context, o *streamOptions) error {
	cfg, err := o.sessionConfig()
	if err != nil {
		return err
	}

	file, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer file.Close()

	input, err := audio.NewPullStream(file, audio.DefaultFormat(), o.chunk)
	if err != nil {
		return fmt.Errorf("read %s: %w", o.file, err)
	}
	f := input.Format()
	cfg.Format = &grpcapi.AudioFormat{SampleRate: f.SampleRate, BitsPerSample: f.BitsPerSample, Channels: f.Channels}

	conn, err := grpc.NewClient(o.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stream, err := grpcapi.NewClient(conn).Transcribe(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("server", o.server).Int("participants", len(cfg.Participants)).Msg("Stream opened")

	sendErr := make(chan error, 1)
	go func() { sendErr <- send(stream, input, o) }()

	enc := json.NewEncoder(os.Stdout)
	for {
		m, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if m.Error != nil {
			log.Warn().Str("code", m.Error.Code).Msg(m.Error.Message)
			continue
		}
		if err := enc.Encode(m.Event); err != nil {
			return err
		}
	}

	select {
	case err := <-sendErr:
		return err
	default:
		return nil
	}
}

func send(stream *grpcapi.Stream, input *audio.PullStream, o *streamOptions) error {
	var (
		chunks int
		bytes  int
		start  = time.Now()
	)
	for {
		seg, err := input.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := stream.SendAudio(seg.Data, o.speaker); err != nil {
			return err
		}
		chunks++
		bytes += len(seg.Data)
		if o.realtime {
			time.Sleep(time.Until(start.Add(seg.End())))
		}
	}
	log.Info().Int("chunks", chunks).Int("bytes", bytes).Dur("elapsed", time.Since(start)).Msg("Audio sent, waiting for final results")
	return stream.CloseSend()
}
