package grpcapi

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
	"conversation-transcriber-service/internal/service/stt/mock"
	"conversation-transcriber-service/internal/service/transcriber"
	"conversation-transcriber-service/internal/speechconfig"
)

var chunk = make([]byte, audio.DefaultFormat().BytesIn(100*time.Millisecond))

type sinkRecorder struct {
	mu     sync.Mutex
	events []models.TranscriptionEvent
}

func (r *sinkRecorder) listen(ev models.TranscriptionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *sinkRecorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func testDeps(t *testing.T, opts ...mock.Option) Deps {
	t.Helper()
	speech, err := speechconfig.FromSubscription("key", "westus")
	require.NoError(t, err)
	if len(opts) == 0 {
		opts = []mock.Option{mock.WithUtterances(mock.SimulatedUtterance{
			Partials:   []string{"good", "good morning"},
			Final:      "Good morning.",
			Confidence: 0.9,
		})}
	}
	return Deps{
		Speech:      speech,
		Factory:     mock.Factory(opts...),
		Transcriber: transcriber.DefaultConfig(),
		Attributor:  attribution.New(attribution.NewFbankEmbedder(attribution.DefaultFbankConfig())),
	}
}

func startServer(t *testing.T, deps Deps) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.StreamInterceptor(observability.StreamServerInterceptor(nil)))
	Register(srv, deps)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recvAll reads until the server ends the stream.
func recvAll(t *testing.T, s *Stream) ([]*ServerMessage, error) {
	t.Helper()
	var out []*ServerMessage
	for {
		m, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}

func eventTypes(msgs []*ServerMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Event != nil {
			out = append(out, m.Event.EventType)
		}
	}
	return out
}

func TestTranscribe_RoundTrip(t *testing.T) {
	rec := &sinkRecorder{}
	deps := testDeps(t)
	deps.Listeners = []session.Listener{rec.listen}
	client := startServer(t, deps)

	s, err := client.Transcribe(testContext(t), SessionConfig{
		ConversationID: "conv-grpc",
		Language:       "en-US",
		Participants:   []ParticipantSpec{{UserID: "alice", Language: "en-US"}, {UserID: "bob"}},
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SendAudio(chunk, "bob"))
	}
	require.NoError(t, s.CloseSend())

	msgs, err := recvAll(t, s)
	require.NoError(t, err)
	require.Equal(t, []string{
		models.EventTypeSessionStarted,
		models.EventTypePartial,
		models.EventTypePartial,
		models.EventTypeFinal,
		models.EventTypeSessionStopped,
	}, eventTypes(msgs))

	for i, m := range msgs {
		require.Nil(t, m.Error)
		require.Equal(t, "conv-grpc", m.Event.ConversationID)
		if i > 0 {
			require.Greater(t, m.Event.Sequence, msgs[i-1].Event.Sequence)
		}
	}
	final := msgs[3].Event
	require.Equal(t, "Good morning.", final.Text)
	require.Equal(t, "bob", final.SpeakerID)
	require.InDelta(t, 0.9, final.Confidence, 1e-9)
	require.True(t, msgs[4].Terminal())

	require.Eventually(t, func() bool {
		return len(rec.kinds()) == 5
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, models.EventSessionStopped, rec.kinds()[4])
}

func TestTranscribe_ControlMessages(t *testing.T) {
	client := startServer(t, testDeps(t))

	s, err := client.Transcribe(testContext(t), SessionConfig{
		Participants: []ParticipantSpec{{UserID: "alice"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.AddParticipant(ParticipantSpec{UserID: "alice"}))
	require.NoError(t, s.RemoveParticipant("nobody"))
	require.NoError(t, s.AddParticipant(ParticipantSpec{UserID: "carol", Language: "fr-FR"}))
	require.NoError(t, s.SendAudio(chunk, "carol"))
	require.NoError(t, s.Cancel())

	msgs, err := recvAll(t, s)
	require.NoError(t, err)

	var notices []string
	for _, m := range msgs {
		if m.Error != nil {
			notices = append(notices, m.Error.Code)
		}
	}
	require.Equal(t, []string{codes.AlreadyExists.String(), codes.NotFound.String()}, notices)

	last := msgs[len(msgs)-1]
	require.True(t, last.Terminal())
	require.Equal(t, models.EventTypeCanceled, last.Event.EventType)
	require.Equal(t, models.CancelUserRequested.String(), last.Event.CancellationReason)
	require.NotEmpty(t, last.Event.ConversationID)
}

func TestTranscribe_StopControl(t *testing.T) {
	client := startServer(t, testDeps(t))

	s, err := client.Transcribe(testContext(t), SessionConfig{ConversationID: "stop-me"})
	require.NoError(t, err)
	require.NoError(t, s.SendAudio(chunk, ""))
	require.NoError(t, s.Stop())

	msgs, err := recvAll(t, s)
	require.NoError(t, err)
	types := eventTypes(msgs)
	require.Equal(t, models.EventTypeSessionStarted, types[0])
	require.Equal(t, models.EventTypeSessionStopped, types[len(types)-1])
	// The partial in flight is flushed as a final on stop.
	require.Contains(t, types, models.EventTypeFinal)
}

func TestTranscribe_RejectsBadStreams(t *testing.T) {
	cases := map[string]struct {
		deps  func(*testing.T) Deps
		first func(*Client, context.Context) (*Stream, error)
		code  codes.Code
	}{
		"malformed signature": {
			deps: func(t *testing.T) Deps { return testDeps(t) },
			first: func(c *Client, ctx context.Context) (*Stream, error) {
				return c.Transcribe(ctx, SessionConfig{Participants: []ParticipantSpec{{UserID: "a", Signature: `{"Version":0}`}}})
			},
			code: codes.InvalidArgument,
		},
		"bad output format": {
			deps: func(t *testing.T) Deps { return testDeps(t) },
			first: func(c *Client, ctx context.Context) (*Stream, error) {
				return c.Transcribe(ctx, SessionConfig{OutputFormat: "verbose"})
			},
			code: codes.InvalidArgument,
		},
		"bad audio format": {
			deps: func(t *testing.T) Deps { return testDeps(t) },
			first: func(c *Client, ctx context.Context) (*Stream, error) {
				return c.Transcribe(ctx, SessionConfig{Format: &AudioFormat{SampleRate: 16000}})
			},
			code: codes.InvalidArgument,
		},
		"recognizer rejects credentials": {
			deps: func(t *testing.T) Deps {
				return testDeps(t, mock.WithStartError(status.Error(codes.Unauthenticated, "bad key")))
			},
			first: func(c *Client, ctx context.Context) (*Stream, error) {
				return c.Transcribe(ctx, SessionConfig{})
			},
			code: codes.Unauthenticated,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := startServer(t, tc.deps(t))
			s, err := tc.first(client, testContext(t))
			require.NoError(t, err)
			_, err = recvAll(t, s)
			require.Equal(t, tc.code, status.Code(err), "err: %v", err)
		})
	}
}

func TestTranscribe_ConfigRequiredFirst(t *testing.T) {
	client := startServer(t, testDeps(t))
	ctx := testContext(t)

	cs, err := client.cc.NewStream(ctx, &ServiceDesc.Streams[0], TranscribeFullMethod)
	require.NoError(t, err)
	s := &Stream{s: &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}}
	require.NoError(t, s.SendAudio(chunk, ""))
	_, err = recvAll(t, s)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{conversation.ErrDuplicateParticipant, codes.AlreadyExists},
		{conversation.ErrNotFound, codes.NotFound},
		{conversation.ErrMalformedVoiceSignature, codes.InvalidArgument},
		{session.ErrOverflow, codes.ResourceExhausted},
		{session.ErrInvalidState, codes.FailedPrecondition},
		{session.ErrStopTimeout, codes.DeadlineExceeded},
		{&session.CanceledError{Reason: models.CancelError}, codes.Canceled},
		{transcriber.ErrNotJoined, codes.FailedPrecondition},
		{audio.ErrNotAttached, codes.FailedPrecondition},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, codeOf(tc.err), "err: %v", tc.err)
	}
}
