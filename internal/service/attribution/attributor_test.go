package attribution

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/audio"
)

type countingEmbedder struct {
	Embedder
	calls int
}

func (c *countingEmbedder) Embed(pcm []byte, f audio.Format) ([]float32, error) {
	c.calls++
	return c.Embedder.Embed(pcm, f)
}

var format = audio.DefaultFormat()

func enroll(t *testing.T, e Embedder, id string, pcm []byte) *conversation.Participant {
	t.Helper()
	emb, err := e.Embed(pcm, format)
	require.NoError(t, err)
	require.Len(t, emb, e.Dim())
	p, err := conversation.NewParticipantWithSignature(id, "en-US",
		conversation.SignatureFromEmbedding(0, []byte(id), emb))
	require.NoError(t, err)
	return p
}

func segment(data []byte, hint string) audio.Segment {
	return audio.Segment{Data: data, Duration: format.Duration(int64(len(data))), SpeakerHint: hint}
}

func TestAttribute_BySignature(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	katie := enroll(t, e, "katie@example.com", audio.Sine(format, 220, 0.5, time.Second))
	steve := enroll(t, e, "steve@example.com", audio.Noise(format, 0.3, time.Second, 1))
	participants := []*conversation.Participant{katie, steve}

	a := New(e)

	r := a.Attribute(segment(audio.Sine(format, 220, 0.2, 500*time.Millisecond), ""), format, participants)
	require.Equal(t, "katie@example.com", r.SpeakerID)
	require.Equal(t, MethodSignature, r.Method)
	require.GreaterOrEqual(t, r.Score, DefaultThreshold)

	r = a.Attribute(segment(audio.Noise(format, 0.6, 500*time.Millisecond, 42), ""), format, participants)
	require.Equal(t, "steve@example.com", r.SpeakerID)
}

func TestAttribute_BelowThresholdIsUnidentified(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	katie := enroll(t, e, "katie@example.com", audio.Sine(format, 220, 0.5, time.Second))

	r := New(e).Attribute(segment(audio.Noise(format, 0.5, 500*time.Millisecond, 7), ""), format,
		[]*conversation.Participant{katie})
	require.Equal(t, models.Unidentified, r.SpeakerID)
	require.Equal(t, MethodNone, r.Method)
}

func TestAttribute_HintWins(t *testing.T) {
	e := &countingEmbedder{Embedder: NewFbankEmbedder(DefaultFbankConfig())}
	katie := enroll(t, e, "katie@example.com", audio.Sine(format, 220, 0.5, time.Second))
	steve, err := conversation.NewParticipant("steve@example.com", "", "")
	require.NoError(t, err)
	e.calls = 0

	r := New(e).Attribute(segment(audio.Sine(format, 220, 0.5, 200*time.Millisecond), "steve@example.com"), format,
		[]*conversation.Participant{katie, steve})
	require.Equal(t, "steve@example.com", r.SpeakerID)
	require.Equal(t, MethodHint, r.Method)
	require.Zero(t, e.calls)
}

func TestAttribute_UnknownHintFallsBackToSignature(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	katie := enroll(t, e, "katie@example.com", audio.Sine(format, 220, 0.5, time.Second))

	r := New(e).Attribute(segment(audio.Sine(format, 220, 0.5, 300*time.Millisecond), "someone-else"), format,
		[]*conversation.Participant{katie})
	require.Equal(t, "katie@example.com", r.SpeakerID)
}

func TestAttribute_NoSignaturesSkipsEmbedding(t *testing.T) {
	e := &countingEmbedder{Embedder: NewFbankEmbedder(DefaultFbankConfig())}
	plain, err := conversation.NewParticipant("plain", "", "")
	require.NoError(t, err)

	a := New(e)
	for i := 0; i < 5; i++ {
		r := a.Attribute(segment(audio.Sine(format, 220, 0.5, 100*time.Millisecond), ""), format,
			[]*conversation.Participant{plain})
		require.Equal(t, models.Unidentified, r.SpeakerID)
	}
	r := a.Attribute(segment(audio.Sine(format, 220, 0.5, 100*time.Millisecond), ""), format, nil)
	require.Equal(t, models.Unidentified, r.SpeakerID)
	require.Zero(t, e.calls)
}

func TestAttribute_IncomparableSignatureSkipsEmbedding(t *testing.T) {
	// A 132-float enrollment-service signature cannot be compared with a 40-band embedding.
	e := &countingEmbedder{Embedder: NewFbankEmbedder(DefaultFbankConfig())}
	other, err := conversation.NewParticipantWithSignature("katie", "",
		conversation.SignatureFromEmbedding(0, []byte("k"), make([]float32, 132)))
	require.NoError(t, err)

	r := New(e).Attribute(segment(audio.Sine(format, 220, 0.5, 100*time.Millisecond), ""), format,
		[]*conversation.Participant{other})
	require.Equal(t, models.Unidentified, r.SpeakerID)
	require.Zero(t, e.calls)
}

func TestAttribute_TiesGoToRegistryOrder(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	pcm := audio.Sine(format, 220, 0.5, time.Second)
	first := enroll(t, e, "first", pcm)
	second := enroll(t, e, "second", pcm)

	r := New(e).Attribute(segment(pcm, ""), format, []*conversation.Participant{first, second})
	require.Equal(t, "first", r.SpeakerID)

	r = New(e).Attribute(segment(pcm, ""), format, []*conversation.Participant{second, first})
	require.Equal(t, "second", r.SpeakerID)
}

func TestAttribute_ShortSegmentIsUnidentified(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	katie := enroll(t, e, "katie", audio.Sine(format, 220, 0.5, time.Second))

	r := New(e).Attribute(segment(audio.Sine(format, 220, 0.5, 10*time.Millisecond), ""), format,
		[]*conversation.Participant{katie})
	require.Equal(t, models.Unidentified, r.SpeakerID)
}

func TestAttribute_RecordsMethod(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p, err := conversation.NewParticipant("p", "", "")
	require.NoError(t, err)

	a := New(NewFbankEmbedder(DefaultFbankConfig()), WithMetrics(m))
	a.Attribute(segment(nil, "p"), format, []*conversation.Participant{p})
	a.Attribute(segment(nil, ""), format, []*conversation.Participant{p})

	require.Equal(t, 1.0, testutil.ToFloat64(m.Attributions.WithLabelValues("hint")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Attributions.WithLabelValues("none")))
}

func TestFbankEmbedder_RejectsUnsupportedFormat(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	_, err := e.Embed(make([]byte, 1000), audio.Format{SampleRate: 8000, BitsPerSample: 16, Channels: 1})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFbankEmbedder_LoudnessInvariant(t *testing.T) {
	e := NewFbankEmbedder(DefaultFbankConfig())
	quiet, err := e.Embed(audio.Sine(format, 440, 0.1, 300*time.Millisecond), format)
	require.NoError(t, err)
	loud, err := e.Embed(audio.Sine(format, 440, 0.8, 300*time.Millisecond), format)
	require.NoError(t, err)
	require.Greater(t, Cosine(quiet, loud), 0.99)
}

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	require.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}
