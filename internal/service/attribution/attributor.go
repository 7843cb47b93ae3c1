// Package attribution decides which conversation participant is speaking
// in an audio segment.
package attribution

import (
	"math"

	"github.com/rs/zerolog"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/audio"
)

// DefaultThreshold is the minimum cosine similarity for a signature match.
const DefaultThreshold = 0.85

// Embedder turns audio into a fixed-size speaker embedding.
type Embedder interface {
	Dim() int
	Embed(pcm []byte, f audio.Format) ([]float32, error)
}

// Method records how a speaker was chosen.
type Method string

const (
	MethodHint      Method = "hint"
	MethodSignature Method = "signature"
	MethodNone      Method = "none"
)

type Result struct {
	SpeakerID string
	Method    Method
	Score     float64
}

// Attributor is stateless per segment and safe for concurrent use.
type Attributor struct {
	embedder  Embedder
	threshold float64
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

type Option func(*Attributor)

func WithThreshold(t float64) Option {
	return func(a *Attributor) { a.threshold = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Attributor) { a.metrics = m }
}

func New(e Embedder, opts ...Option) *Attributor {
	a := &Attributor{
		embedder:  e,
		threshold: DefaultThreshold,
		log:       logging.WithComponent("attribution"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attribute picks the speaker of seg among participants, in order:
//  1. a speaker hint naming a participant;
//  2. the enrolled participant whose signature is most similar to the
//     segment, if the similarity reaches the threshold.
//
// Otherwise the segment is Unidentified. When no participant has a
// signature comparable with the embedder, no embedding is computed.
func (a *Attributor) Attribute(seg audio.Segment, f audio.Format, participants []*conversation.Participant) Result {
	if seg.SpeakerHint != "" {
		for _, p := range participants {
			if p.ID() == seg.SpeakerHint {
				return a.record(Result{SpeakerID: p.ID(), Method: MethodHint, Score: 1})
			}
		}
	}

	candidates := a.comparable(participants)
	if len(candidates) == 0 {
		return a.record(unidentified())
	}

	emb, err := a.embedder.Embed(seg.Data, f)
	if err != nil {
		a.log.Warn().Err(err).Uint64("sequence", seg.Sequence).Msg("Embedding failed")
		return a.record(unidentified())
	}
	if emb == nil {
		return a.record(unidentified())
	}

	best := unidentified()
	for _, p := range candidates {
		score := Cosine(emb, p.Signature().Embedding())
		if score >= a.threshold && score > best.Score {
			best = Result{SpeakerID: p.ID(), Method: MethodSignature, Score: score}
		}
	}
	return a.record(best)
}

func (a *Attributor) comparable(participants []*conversation.Participant) []*conversation.Participant {
	var out []*conversation.Participant
	for _, p := range participants {
		if len(p.Signature().Embedding()) == a.embedder.Dim() {
			out = append(out, p)
		}
	}
	return out
}

func (a *Attributor) record(r Result) Result {
	a.metrics.RecordAttribution(string(r.Method))
	return r
}

func unidentified() Result {
	return Result{SpeakerID: models.Unidentified, Method: MethodNone}
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
