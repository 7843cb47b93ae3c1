package enrollment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
)

const okResponse = `{"Status":"OK","Signature":{"Version":0,"Tag":"VGFn","Data":"AACAPwAAAEA="},"Transcription":"hello there"}`

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func fastClient(endpoint string) *HTTPClient {
	return NewHTTPClient(endpoint, "secret",
		WithRetryMax(2),
		WithRetryWait(time.Millisecond, 5*time.Millisecond),
		WithTimeout(time.Second))
}

func TestHTTPClient_Enroll(t *testing.T) {
	var gotBody []byte
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, GeneratePath, r.URL.Path)
		require.Equal(t, "secret", r.Header.Get(SubscriptionKeyHeader))
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(okResponse))
	})

	res, err := fastClient(srv.URL+"/").Enroll(context.Background(), []byte("sample"))
	require.NoError(t, err)
	require.Equal(t, []byte("sample"), gotBody)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, "hello there", res.Transcription)
	require.Equal(t, "VGFn", res.Signature.Tag)
	require.Equal(t, []float32{1, 2}, res.Signature.Embedding())
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okResponse))
	})

	res, err := fastClient(srv.URL).Enroll(context.Background(), []byte("sample"))
	require.NoError(t, err)
	require.NotNil(t, res.Signature)
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := fastClient(srv.URL).Enroll(context.Background(), []byte("sample"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 401")
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_BadResponses(t *testing.T) {
	cases := map[string]struct {
		body string
		want error
	}{
		"rejected":          {`{"Status":"Failed"}`, ErrRejected},
		"missing signature": {`{"Status":"OK"}`, conversation.ErrMalformedVoiceSignature},
		"bad signature":     {`{"Status":"OK","Signature":{"Version":0,"Tag":"","Data":"x"}}`, conversation.ErrMalformedVoiceSignature},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := fastClient(srv.URL).Enroll(context.Background(), []byte("sample"))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPClient_EmptySample(t *testing.T) {
	_, err := NewHTTPClient("http://127.0.0.1:1", "k").Enroll(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptySample)
}

func TestLocal_EnrollComparableToAttribution(t *testing.T) {
	f := audio.DefaultFormat()
	emb := attribution.NewFbankEmbedder(attribution.DefaultFbankConfig())
	l := NewLocal(emb, f, nil)

	low := audio.Sine(f, 220, 0.5, time.Second)
	high := audio.Sine(f, 3000, 0.5, time.Second)

	res, err := l.Enroll(context.Background(), audio.EncodeWAV(low, f))
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Signature.Embedding(), emb.Dim())

	// The encoded signature survives a JSON round trip through the parser.
	raw, err := res.Signature.JSON()
	require.NoError(t, err)
	parsed, err := conversation.ParseVoiceSignature(raw)
	require.NoError(t, err)
	require.Equal(t, res.Signature.Embedding(), parsed.Embedding())

	sameVoice, err := emb.Embed(low[:f.BytesIn(500*time.Millisecond)], f)
	require.NoError(t, err)
	otherVoice, err := emb.Embed(high, f)
	require.NoError(t, err)
	require.Greater(t,
		attribution.Cosine(parsed.Embedding(), sameVoice),
		attribution.Cosine(parsed.Embedding(), otherVoice))
}

func TestLocal_RawPCMAndTag(t *testing.T) {
	f := audio.DefaultFormat()
	l := NewLocal(attribution.NewFbankEmbedder(attribution.DefaultFbankConfig()), f, nil)
	pcm := audio.Sine(f, 440, 0.3, 300*time.Millisecond)

	a, err := l.Enroll(context.Background(), pcm)
	require.NoError(t, err)
	b, err := l.Enroll(context.Background(), pcm)
	require.NoError(t, err)
	require.Equal(t, a.Signature.Tag, b.Signature.Tag)

	c, err := l.Enroll(context.Background(), audio.Sine(f, 440, 0.3, 400*time.Millisecond))
	require.NoError(t, err)
	require.NotEqual(t, a.Signature.Tag, c.Signature.Tag)
}

func TestLocal_Errors(t *testing.T) {
	f := audio.DefaultFormat()
	l := NewLocal(attribution.NewFbankEmbedder(attribution.DefaultFbankConfig()), f, nil)

	_, err := l.Enroll(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptySample)

	_, err = l.Enroll(context.Background(), make([]byte, 100))
	require.ErrorIs(t, err, ErrSampleTooShort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Enroll(ctx, make([]byte, 32000))
	require.ErrorIs(t, err, context.Canceled)

	_, err = l.Enroll(context.Background(), audio.EncodeWAV(make([]byte, 16000), audio.Format{SampleRate: 8000, BitsPerSample: 16, Channels: 1}))
	require.ErrorIs(t, err, attribution.ErrUnsupportedFormat)
}

var _ Enroller = (*HTTPClient)(nil)
var _ Enroller = (*Local)(nil)
