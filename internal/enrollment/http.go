package enrollment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
)

// GeneratePath is the enrollment service route that accepts a raw sample.
const GeneratePath = "/api/v1/Signature/GenerateVoiceSignatureFromByteArray"

// SubscriptionKeyHeader carries the enrollment service key.
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// maxResponseBytes bounds the response body read from the service.
const maxResponseBytes = 1 << 20

// HTTPClient calls the enrollment service. Transient failures (connection
// errors, 429 and 5xx responses) are retried with backoff.
type HTTPClient struct {
	client   *retryablehttp.Client
	endpoint string
	key      string
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

type HTTPOption func(*HTTPClient)

func WithRetryMax(n int) HTTPOption {
	return func(c *HTTPClient) { c.client.RetryMax = n }
}

// WithRetryWait sets the backoff bounds between attempts.
func WithRetryWait(min, max time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.RetryWaitMin = min
		c.client.RetryWaitMax = max
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.client.HTTPClient.Timeout = d }
}

func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(c *HTTPClient) { c.metrics = m }
}

// NewHTTPClient creates a client for the service at endpoint (scheme and
// host, optionally with a base path).
func NewHTTPClient(endpoint, subscriptionKey string, opts ...HTTPOption) *HTTPClient {
	client := retryablehttp.NewClient()
	client.Logger = nil

	c := &HTTPClient{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      subscriptionKey,
		log:      logging.WithComponent("enrollment"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Enroll(ctx context.Context, sample []byte) (*Result, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}
	start := time.Now()
	res, err := c.enroll(ctx, sample)
	c.metrics.RecordEnrollment(err, time.Since(start).Seconds())
	if err != nil {
		c.log.Warn().Err(err).Int("sampleBytes", len(sample)).Msg("Enrollment failed")
		return nil, err
	}
	c.log.Info().Int("sampleBytes", len(sample)).Dur("latency", time.Since(start)).Msg("Voice signature created")
	return res, nil
}

func (c *HTTPClient) enroll(ctx context.Context, sample []byte) (*Result, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+GeneratePath, bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("build enrollment request: %w", err)
	}
	req.Header.Set(SubscriptionKeyHeader, c.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrollment request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read enrollment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("enrollment service returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeResult(body)
}
