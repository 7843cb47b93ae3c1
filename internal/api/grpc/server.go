package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
	"conversation-transcriber-service/internal/service/stt"
	"conversation-transcriber-service/internal/service/transcriber"
	"conversation-transcriber-service/internal/speechconfig"
)

// overflowBackoff is how long an audio write waits before retrying a chunk
// the session queue rejected.
const overflowBackoff = 10 * time.Millisecond

// outboundBuffer is the number of server messages queued for one stream.
const outboundBuffer = 64

// Deps are the collaborators shared by all streams.
type Deps struct {
	Speech      speechconfig.Config
	Factory     stt.Factory
	Transcriber transcriber.Config
	Attributor  *attribution.Attributor
	Metrics     *metrics.Metrics
	// Listeners receive every event of every session, e.g. the Kafka sink.
	Listeners []session.Listener
}

type Server struct {
	deps Deps
	log  zerolog.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, log: logging.WithComponent("grpc")}
}

// Register creates a server from deps and registers it on g.
func Register(g grpc.ServiceRegistrar, deps Deps) *Server {
	s := NewServer(deps)
	RegisterConversationTranscriptionServer(g, s)
	return s
}

// call is the per-stream state of Transcribe.
type call struct {
	conv  *conversation.Conversation
	input *audio.PushStream
	t     *transcriber.Transcriber
	out   chan *ServerMessage
	log   zerolog.Logger
}

// Transcribe runs one conversation transcription over a bidirectional
// stream. The first client message configures the conversation; later ones
// carry audio or control requests. The server streams events until the
// session ends. Closing the send side stops the session gracefully.
func (s *Server) Transcribe(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	ctx := stream.Context()

	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "stream closed before config")
	}
	if err != nil {
		return err
	}
	msg, err := decodeClientMessage(first)
	if err != nil {
		return toStatus(err)
	}
	if msg.Config == nil {
		return status.Error(codes.InvalidArgument, "first message must carry config")
	}

	c, err := s.open(ctx, msg.Config)
	if err != nil {
		s.log.Warn().Err(err).Str("conversationId", msg.Config.ConversationID).Msg("Rejected stream config")
		return toStatus(err)
	}
	defer s.close(c)

	c.log.Info().Int("participants", len(c.conv.Participants())).Msg("Transcription stream opened")

	if err := c.t.StartTranscribing(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to start transcribing")
		return toStatus(err)
	}

	recvDone := make(chan error, 1)
	go func() { recvDone <- s.receive(ctx, stream, c) }()

	for {
		select {
		case m := <-c.out:
			out, err := toStruct(m)
			if err != nil {
				return status.Errorf(codes.Internal, "encode message: %v", err)
			}
			if err := stream.Send(out); err != nil {
				_ = c.t.Cancel()
				return err
			}
			if m.Terminal() {
				return nil
			}
		case err := <-recvDone:
			recvDone = nil
			if err != nil {
				c.log.Debug().Err(err).Msg("Receive side ended")
			}
		case <-ctx.Done():
			_ = c.t.Cancel()
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

func (s *Server) open(ctx context.Context, cfg *SessionConfig) (*call, error) {
	speech := s.deps.Speech
	if cfg.Language != "" {
		speech = speech.WithLanguage(cfg.Language)
	}
	if cfg.OutputFormat != "" {
		f, err := speechconfig.ParseOutputFormat(cfg.OutputFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		speech = speech.WithOutputFormat(f)
	}

	conv, err := conversation.New(speech, cfg.ConversationID, conversation.WithMetrics(s.deps.Metrics))
	if err != nil {
		return nil, err
	}
	for name, value := range cfg.Properties {
		if err := conv.SetProperty(name, value); err != nil {
			return nil, err
		}
	}
	for _, spec := range cfg.Participants {
		p, err := spec.participant()
		if err != nil {
			return nil, err
		}
		if err := conv.AddParticipant(p); err != nil {
			return nil, err
		}
	}

	format := cfg.Format.format()
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	input := audio.NewPushStream(format)

	opts := []transcriber.Option{
		transcriber.WithConfig(s.deps.Transcriber),
		transcriber.WithMetrics(s.deps.Metrics),
	}
	if s.deps.Attributor != nil {
		opts = append(opts, transcriber.WithAttributor(s.deps.Attributor))
	}
	t := transcriber.New(transcriber.PushInput(input), s.deps.Factory, opts...)
	if err := t.JoinConversation(ctx, conv); err != nil {
		return nil, err
	}

	c := &call{
		conv:  conv,
		input: input,
		t:     t,
		out:   make(chan *ServerMessage, outboundBuffer),
		log:   logging.WithConversation(conv.ID()).With().Str("component", "grpc").Logger(),
	}
	t.Subscribe(func(ev models.TranscriptionEvent) {
		w := ev.Wire()
		select {
		case c.out <- &ServerMessage{Event: &w}:
		case <-ctx.Done():
		}
	})
	for _, l := range s.deps.Listeners {
		t.Subscribe(l)
	}
	return c, nil
}

func (s *Server) close(c *call) {
	if err := c.t.Close(); err != nil {
		c.log.Debug().Err(err).Msg("Closing transcriber")
	}
	_ = c.input.Close()
	if err := c.t.LeaveConversation(context.Background()); err != nil && !errors.Is(err, transcriber.ErrNotJoined) {
		c.log.Debug().Err(err).Msg("Leaving conversation")
	}
	_ = c.conv.Close()
	c.log.Info().Msg("Transcription stream closed")
}

// receive handles client messages until the client half-closes or the
// stream breaks. Rejected requests are reported as error notices.
func (s *Server) receive(ctx context.Context, stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct], c *call) error {
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.log.Debug().Msg("Client finished sending, stopping session")
			s.notify(ctx, c, ignoreEnded(c.t.StopTranscribing(ctx)))
			return nil
		}
		if err != nil {
			return err
		}

		msg, err := decodeClientMessage(in)
		if err != nil {
			s.notify(ctx, c, err)
			continue
		}
		s.notify(ctx, c, s.handle(ctx, c, msg))
	}
}

func (s *Server) handle(ctx context.Context, c *call, msg *ClientMessage) error {
	switch {
	case msg.Audio != nil:
		return c.write(ctx, msg.Audio)
	case msg.Config != nil:
		return fmt.Errorf("%w: config already set", ErrInvalidMessage)
	}

	switch ctl := msg.Control; ctl.Action {
	case ActionStop:
		return ignoreEnded(c.t.StopTranscribing(ctx))
	case ActionCancel:
		return ignoreEnded(c.t.Cancel())
	case ActionAddParticipant:
		p, err := ctl.Participant.participant()
		if err != nil {
			return err
		}
		return c.t.AddParticipant(p)
	case ActionRemoveParticipant:
		return c.t.RemoveParticipant(ctl.UserID)
	}
	return nil
}

func (s *Server) notify(ctx context.Context, c *call, err error) {
	if err == nil {
		return
	}
	c.log.Debug().Err(err).Msg("Request rejected")
	select {
	case c.out <- &ServerMessage{Error: &ErrorNotice{Code: codeOf(err).String(), Message: err.Error()}}:
	case <-ctx.Done():
	}
}

// write forwards a chunk to the session, waiting out queue overflows.
func (c *call) write(ctx context.Context, chunk *AudioChunk) error {
	for {
		if chunk.SpeakerID != "" {
			if err := c.input.SetProperty(audio.PropertySpeakerID, chunk.SpeakerID); err != nil {
				return err
			}
		}
		if chunk.Timestamp != "" {
			if err := c.input.SetProperty(audio.PropertyBufferTimestamp, chunk.Timestamp); err != nil {
				return err
			}
		}

		_, err := c.input.Write(chunk.Data)
		if !errors.Is(err, session.ErrOverflow) {
			return err
		}
		select {
		case <-time.After(overflowBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ignoreEnded drops the errors of stopping or canceling a session that has
// already ended.
func ignoreEnded(err error) error {
	if errors.Is(err, session.ErrInvalidState) || errors.Is(err, session.ErrCanceled) {
		return nil
	}
	return err
}

func (p *ParticipantSpec) participant() (*conversation.Participant, error) {
	return conversation.NewParticipant(p.UserID, p.Language, p.Signature)
}
