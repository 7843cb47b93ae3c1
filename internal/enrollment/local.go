package enrollment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
)

// ErrSampleTooShort is returned when a sample holds less than one analysis window.
var ErrSampleTooShort = errors.New("voice sample too short")

// Local derives signatures from the attribution embedder, so that they are
// directly comparable during attribution. The tag is the SHA-256 of the
// sample.
type Local struct {
	embedder attribution.Embedder
	format   audio.Format
	version  int
	metrics  *metrics.Metrics
}

// NewLocal creates a local enroller. Raw PCM samples are read as f; WAV
// samples carry their own format.
func NewLocal(e attribution.Embedder, f audio.Format, m *metrics.Metrics) *Local {
	return &Local{embedder: e, format: f, metrics: m}
}

func (l *Local) Enroll(ctx context.Context, sample []byte) (*Result, error) {
	start := time.Now()
	res, err := l.enroll(ctx, sample)
	l.metrics.RecordEnrollment(err, time.Since(start).Seconds())
	return res, err
}

func (l *Local) enroll(ctx context.Context, sample []byte) (*Result, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pcm, f, err := readAll(sample, l.format)
	if err != nil {
		return nil, err
	}
	emb, err := l.embedder.Embed(pcm, f)
	if err != nil {
		return nil, fmt.Errorf("embed voice sample: %w", err)
	}
	if emb == nil {
		return nil, ErrSampleTooShort
	}

	tag := sha256.Sum256(sample)
	return &Result{
		Status:    StatusOK,
		Signature: conversation.SignatureFromEmbedding(l.version, tag[:], emb),
	}, nil
}

// readAll decodes sample through a pull stream, which strips a WAV header
// when present.
func readAll(sample []byte, f audio.Format) ([]byte, audio.Format, error) {
	ps, err := audio.NewPullStream(bytes.NewReader(sample), f, time.Second)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("read voice sample: %w", err)
	}
	var pcm []byte
	for {
		seg, err := ps.Next()
		if errors.Is(err, io.EOF) {
			return pcm, ps.Format(), nil
		}
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("read voice sample: %w", err)
		}
		pcm = append(pcm, seg.Data...)
	}
}
