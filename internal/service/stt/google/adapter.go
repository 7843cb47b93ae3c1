// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/service/stt"
)

// Config holds recognition settings sent as the first stream message.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	Model          string
	Punctuation    bool

	// Speaker diarization; speaker tags are advisory only, attribution
	// to participants happens in the session.
	EnableDiarization bool
	MinSpeakers       int32
	MaxSpeakers       int32
}

func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Punctuation:    true,
		MinSpeakers:    1,
		MaxSpeakers:    6,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	config Config
	log    zerolog.Logger

	mu      sync.Mutex
	stream  speechpb.Speech_StreamingRecognizeClient
	cb      stt.Callback
	closing bool
	done    chan struct{}
}

// New creates a client. Credentials come from GOOGLE_APPLICATION_CREDENTIALS
// unless opts say otherwise.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		config: cfg,
		log:    logging.WithComponent("stt-google"),
	}, nil
}

// Factory returns an stt.Factory creating one client per session.
func Factory(cfg Config, opts ...option.ClientOption) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(ctx, cfg, opts...)
	}
}

// Start opens the stream, sends the recognition config and starts receiving.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(a.config),
		},
	}); err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.listen(stream, cb, a.done)
	return nil
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            cfg.SampleRateHz,
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: cfg.Punctuation,
	}
	if cfg.EnableDiarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          cfg.MinSpeakers,
			MaxSpeakerCount:          cfg.MaxSpeakers,
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: cfg.InterimResults,
	}
}

func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("google stt: stream not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, waits for the remaining results and
// releases the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	stream, done := a.stream, a.done
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
		<-done
	}
	if cerr := a.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				a.log.Debug().Err(err).Msg("Recognition stream canceled")
				return
			}
			cb.OnError(err)
			return
		}
		if resp.Error != nil {
			cb.OnError(status.ErrorProto(resp.Error))
			return
		}
		handleResponse(resp, cb)
	}
}

func handleResponse(resp *speechpb.StreamingRecognizeResponse, cb stt.Callback) {
	var interim []string
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			if r.IsFinal {
				cb.OnNoMatch()
				cb.OnEndOfUtterance()
			}
			continue
		}
		alt := r.Alternatives[0]
		if r.IsFinal {
			if strings.TrimSpace(alt.Transcript) == "" {
				cb.OnNoMatch()
			} else {
				cb.OnFinal(strings.TrimSpace(alt.Transcript), float64(alt.Confidence))
			}
			cb.OnEndOfUtterance()
			continue
		}
		interim = append(interim, alt.Transcript)
	}
	if len(interim) > 0 {
		cb.OnPartial(strings.TrimSpace(strings.Join(interim, "")))
	}
	if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
		cb.OnEndOfUtterance()
	}
}

// parseAudioEncoding maps an exact upper-case encoding name; anything else
// falls back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
