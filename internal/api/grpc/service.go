// Package grpcapi exposes conversation transcription as a bidirectional
// gRPC stream. Messages are google.protobuf.Struct documents whose shape is
// given by ClientMessage and ServerMessage.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName          = "conversation.v1.ConversationTranscription"
	TranscribeFullMethod = "/" + ServiceName + "/Transcribe"
)

// ConversationTranscriptionServer is implemented by *Server.
type ConversationTranscriptionServer interface {
	Transcribe(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

func RegisterConversationTranscriptionServer(r grpc.ServiceRegistrar, srv ConversationTranscriptionServer) {
	r.RegisterService(&ServiceDesc, srv)
}

func transcribeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConversationTranscriptionServer).Transcribe(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationTranscriptionServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transcribe",
			Handler:       transcribeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "conversation/v1/transcription.proto",
}

// Client opens Transcribe streams.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Stream is the client side of one Transcribe call.
type Stream struct {
	s grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
}

// Transcribe opens a stream and sends cfg as its first message.
func (c *Client) Transcribe(ctx context.Context, cfg SessionConfig, opts ...grpc.CallOption) (*Stream, error) {
	cs, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], TranscribeFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	st := &Stream{s: &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}}
	if err := st.send(&ClientMessage{Config: &cfg}); err != nil {
		return nil, err
	}
	return st, nil
}

// SendAudio sends one chunk. speakerID may be empty.
func (s *Stream) SendAudio(data []byte, speakerID string) error {
	return s.send(&ClientMessage{Audio: &AudioChunk{Data: data, SpeakerID: speakerID}})
}

func (s *Stream) AddParticipant(p ParticipantSpec) error {
	return s.send(&ClientMessage{Control: &Control{Action: ActionAddParticipant, Participant: &p}})
}

func (s *Stream) RemoveParticipant(userID string) error {
	return s.send(&ClientMessage{Control: &Control{Action: ActionRemoveParticipant, UserID: userID}})
}

// Stop asks the server to drain and stop the session.
func (s *Stream) Stop() error {
	return s.send(&ClientMessage{Control: &Control{Action: ActionStop}})
}

func (s *Stream) Cancel() error {
	return s.send(&ClientMessage{Control: &Control{Action: ActionCancel}})
}

// CloseSend half-closes the stream, which stops the session gracefully.
func (s *Stream) CloseSend() error {
	return s.s.CloseSend()
}

// Recv returns the next server message. io.EOF follows the terminal event.
func (s *Stream) Recv() (*ServerMessage, error) {
	in, err := s.s.Recv()
	if err != nil {
		return nil, err
	}
	var m ServerMessage
	if err := fromStruct(in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Stream) send(m *ClientMessage) error {
	out, err := toStruct(m)
	if err != nil {
		return err
	}
	return s.s.Send(out)
}
