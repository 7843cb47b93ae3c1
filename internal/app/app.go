package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	grpcapi "conversation-transcriber-service/internal/api/grpc"
	"conversation-transcriber-service/internal/config"
	"conversation-transcriber-service/internal/enrollment"
	"conversation-transcriber-service/internal/events"
	"conversation-transcriber-service/internal/observability"
	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
	"conversation-transcriber-service/internal/service/stt"
	"conversation-transcriber-service/internal/service/stt/google"
	"conversation-transcriber-service/internal/service/stt/mock"
	"conversation-transcriber-service/internal/service/transcriber"
	"conversation-transcriber-service/internal/speechconfig"
)

const serviceName = "conversation-transcriber-service"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics    *metrics.Metrics
	Speech     speechconfig.Config
	Factory    stt.Factory
	Attributor *attribution.Attributor
	Enroller   enrollment.Enroller
	Publisher  *events.Publisher
	Ready      *observability.Readiness
}

// Option customizes collaborators, mostly for tests.
type Option func(*Application)

func WithFactory(f stt.Factory) Option {
	return func(a *Application) { a.Factory = f }
}

func WithEnroller(e enrollment.Enroller) Option {
	return func(a *Application) { a.Enroller = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.Metrics = m }
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
		Ready:   &observability.Readiness{},
	}
	a.setupLogger()
	for _, opt := range opts {
		opt(a)
	}

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	speech, err := cfg.SpeechConfig()
	if err != nil {
		return nil, fmt.Errorf("speech config: %w", err)
	}
	a.Speech = speech

	if a.Factory == nil {
		a.Factory = newFactory(cfg.STT)
	}

	embedder := attribution.NewFbankEmbedder(attribution.DefaultFbankConfig())
	a.Attributor = attribution.New(embedder,
		attribution.WithThreshold(cfg.Session.AttributionThreshold),
		attribution.WithMetrics(a.Metrics))

	if a.Enroller == nil {
		a.Enroller = newEnroller(cfg.Enrollment, embedder, a.Metrics)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		TopicSession: cfg.Kafka.TopicSession,
		Principal:    cfg.Kafka.Principal,
	})

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("remoteEnrollment", cfg.Enrollment.Endpoint != "").
		Msg("Conversation transcriber application created")
	return a, nil
}

func newFactory(cfg config.STTConfig) stt.Factory {
	if cfg.Provider != "google" {
		return mock.Factory(mock.WithLoop())
	}
	gc := google.DefaultConfig()
	gc.LanguageCode = cfg.LanguageCode
	gc.SampleRateHz = int32(cfg.SampleRateHz)
	gc.InterimResults = cfg.InterimResults
	gc.AudioEncoding = cfg.AudioEncoding
	gc.Model = cfg.Model
	gc.EnableDiarization = cfg.EnableDiarization
	gc.MinSpeakers = int32(cfg.MinSpeakers)
	gc.MaxSpeakers = int32(cfg.MaxSpeakers)

	// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
	return google.Factory(gc, option.WithUserAgent(serviceName))
}

func newEnroller(cfg config.EnrollmentConfig, e attribution.Embedder, m *metrics.Metrics) enrollment.Enroller {
	if cfg.Endpoint == "" {
		return enrollment.NewLocal(e, audio.DefaultFormat(), m)
	}
	return enrollment.NewHTTPClient(cfg.Endpoint, cfg.SubscriptionKey,
		enrollment.WithRetryMax(cfg.RetryMax),
		enrollment.WithTimeout(cfg.Timeout),
		enrollment.WithMetrics(m))
}

// setupLogger configures zerolog for the service. ENV=dev forces console output.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = a.Cfg.Observability.LogFormat
	if os.Getenv("ENV") == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application").With().
		Str("service", serviceName).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", lc.Format).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// TranscriberConfig is the per-stream controller configuration.
func (a *Application) TranscriberConfig() transcriber.Config {
	sc := session.DefaultConfig()
	sc.QueueSize = a.Cfg.Session.QueueSize
	sc.Limits = a.Cfg.Session.Limits
	return transcriber.Config{
		Session:     sc,
		StopTimeout: a.Cfg.Session.StopTimeout,
		Provider:    a.Cfg.STT.Provider,
	}
}

// GRPCDeps wires the transcription RPC surface. Every session event is
// also published to Kafka.
func (a *Application) GRPCDeps(ctx context.Context) grpcapi.Deps {
	return grpcapi.Deps{
		Speech:      a.Speech,
		Factory:     a.Factory,
		Transcriber: a.TranscriberConfig(),
		Attributor:  a.Attributor,
		Metrics:     a.Metrics,
		Listeners:   []session.Listener{a.Publisher.Listener(ctx)},
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.Ready.SetReady(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Conversation transcriber starting")

	return nil
}

// Shutdown stops accepting traffic and flushes the event publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.Ready.SetReady(false)
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Closing event publisher")
	}
	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Conversation transcriber shutting down")
}
