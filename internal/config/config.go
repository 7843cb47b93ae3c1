// Package config loads service configuration from an optional YAML file
// and the environment. Environment variables take precedence over the file;
// values that fail to parse fall back to the previous layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conversation-transcriber-service/internal/service/segment"
	"conversation-transcriber-service/internal/speechconfig"
)

// OfflineEndpoint is used for the speech config when neither an endpoint nor
// a subscription is configured, e.g. with the mock recognizer.
const OfflineEndpoint = "wss://localhost/speech/recognition/conversation/cognitiveservices/v1"

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Session       SessionConfig       `yaml:"session"`
	Speech        SpeechConfig        `yaml:"speech"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Enrollment    EnrollmentConfig    `yaml:"enrollment"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal       string        `yaml:"principal"`
	GRPCPort        string        `yaml:"grpcPort"`
	HTTPPort        string        `yaml:"httpPort"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type STTConfig struct {
	Provider          string `yaml:"provider"` // mock, google
	LanguageCode      string `yaml:"languageCode"`
	SampleRateHz      int    `yaml:"sampleRateHz"`
	InterimResults    bool   `yaml:"interimResults"`
	AudioEncoding     string `yaml:"audioEncoding"`
	Model             string `yaml:"model"`
	EnableDiarization bool   `yaml:"enableDiarization"`
	MinSpeakers       int    `yaml:"minSpeakers"`
	MaxSpeakers       int    `yaml:"maxSpeakers"`
}

type SessionConfig struct {
	QueueSize            int            `yaml:"queueSize"`
	StopTimeout          time.Duration  `yaml:"stopTimeout"`
	ChunkDuration        time.Duration  `yaml:"chunkDuration"`
	AttributionThreshold float64        `yaml:"attributionThreshold"`
	Limits               segment.Limits `yaml:"limits"`
}

type SpeechConfig struct {
	Endpoint        string `yaml:"endpoint"`
	SubscriptionKey string `yaml:"subscriptionKey"`
	Region          string `yaml:"region"`
	Language        string `yaml:"language"`
	OutputFormat    string `yaml:"outputFormat"` // simple, detailed
	InRoomAndOnline bool   `yaml:"inRoomAndOnline"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topicPartial"`
	TopicFinal   string   `yaml:"topicFinal"`
	TopicSession string   `yaml:"topicSession"`
	Principal    string   `yaml:"principal"`
}

type EnrollmentConfig struct {
	// Endpoint of the enrollment service. Empty means signatures are
	// derived locally.
	Endpoint        string        `yaml:"endpoint"`
	SubscriptionKey string        `yaml:"subscriptionKey"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryMax        int           `yaml:"retryMax"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // json, console
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:       "svc-conversation-transcriber",
			GRPCPort:        "50051",
			HTTPPort:        "8080",
			ShutdownTimeout: 15 * time.Second,
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
			MinSpeakers:    1,
			MaxSpeakers:    6,
		},
		Session: SessionConfig{
			QueueSize:            64,
			StopTimeout:          10 * time.Second,
			ChunkDuration:        100 * time.Millisecond,
			AttributionThreshold: 0.85,
			Limits:               segment.DefaultLimits(),
		},
		Speech: SpeechConfig{
			OutputFormat: "simple",
		},
		Kafka: KafkaConfig{
			TopicPartial: "conversation.transcript.partial",
			TopicFinal:   "conversation.transcript.final",
			TopicSession: "conversation.session",
		},
		Enrollment: EnrollmentConfig{
			Timeout:  30 * time.Second,
			RetryMax: 3,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", c.Service.ShutdownTimeout)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.EnableDiarization = envOrDefaultBool("STT_ENABLE_DIARIZATION", c.STT.EnableDiarization)
	c.STT.MinSpeakers = envOrDefaultInt("STT_MIN_SPEAKERS", c.STT.MinSpeakers)
	c.STT.MaxSpeakers = envOrDefaultInt("STT_MAX_SPEAKERS", c.STT.MaxSpeakers)

	c.Session.QueueSize = envOrDefaultInt("SESSION_QUEUE_SIZE", c.Session.QueueSize)
	c.Session.StopTimeout = envOrDefaultDuration("SESSION_STOP_TIMEOUT", c.Session.StopTimeout)
	c.Session.ChunkDuration = envOrDefaultDuration("SESSION_CHUNK_DURATION", c.Session.ChunkDuration)
	c.Session.AttributionThreshold = envOrDefaultFloat("ATTRIBUTION_THRESHOLD", c.Session.AttributionThreshold)
	c.Session.Limits.MaxAudioBytes = envOrDefaultInt64("SEGMENT_MAX_AUDIO_BYTES", c.Session.Limits.MaxAudioBytes)
	c.Session.Limits.MaxDuration = envOrDefaultDuration("SEGMENT_MAX_DURATION", c.Session.Limits.MaxDuration)
	c.Session.Limits.MaxPartials = envOrDefaultInt("SEGMENT_MAX_PARTIALS", c.Session.Limits.MaxPartials)

	c.Speech.Endpoint = envOrDefault("SPEECH_ENDPOINT", c.Speech.Endpoint)
	c.Speech.SubscriptionKey = envOrDefault("SPEECH_SUBSCRIPTION_KEY", c.Speech.SubscriptionKey)
	c.Speech.Region = envOrDefault("SPEECH_REGION", c.Speech.Region)
	c.Speech.Language = envOrDefault("SPEECH_LANGUAGE", c.Speech.Language)
	c.Speech.OutputFormat = envOrDefault("SPEECH_OUTPUT_FORMAT", c.Speech.OutputFormat)
	c.Speech.InRoomAndOnline = envOrDefaultBool("SPEECH_IN_ROOM_AND_ONLINE", c.Speech.InRoomAndOnline)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicSession = envOrDefault("KAFKA_TOPIC_SESSION", c.Kafka.TopicSession)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Enrollment.Endpoint = envOrDefault("ENROLLMENT_ENDPOINT", c.Enrollment.Endpoint)
	c.Enrollment.SubscriptionKey = envOrDefault("ENROLLMENT_SUBSCRIPTION_KEY", c.Enrollment.SubscriptionKey)
	c.Enrollment.Timeout = envOrDefaultDuration("ENROLLMENT_TIMEOUT", c.Enrollment.Timeout)
	c.Enrollment.RetryMax = envOrDefaultInt("ENROLLMENT_RETRY_MAX", c.Enrollment.RetryMax)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.STT.Provider {
	case "mock", "google":
	default:
		return fmt.Errorf("unknown STT provider %q", c.STT.Provider)
	}
	if _, err := speechconfig.ParseOutputFormat(c.Speech.OutputFormat); err != nil {
		return err
	}
	if c.Session.AttributionThreshold < -1 || c.Session.AttributionThreshold > 1 {
		return fmt.Errorf("attribution threshold %v outside [-1, 1]", c.Session.AttributionThreshold)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}

// SpeechConfig builds the immutable speech configuration for conversations.
func (c *Config) SpeechConfig() (speechconfig.Config, error) {
	var (
		sc  speechconfig.Config
		err error
	)
	switch {
	case c.Speech.Endpoint != "":
		sc, err = speechconfig.FromEndpoint(c.Speech.Endpoint, c.Speech.SubscriptionKey)
	case c.Speech.SubscriptionKey != "" || c.Speech.Region != "":
		sc, err = speechconfig.FromSubscription(c.Speech.SubscriptionKey, c.Speech.Region)
	default:
		sc, err = speechconfig.FromEndpoint(OfflineEndpoint, "")
	}
	if err != nil {
		return speechconfig.Config{}, err
	}

	format, err := speechconfig.ParseOutputFormat(c.Speech.OutputFormat)
	if err != nil {
		return speechconfig.Config{}, err
	}
	sc = sc.WithOutputFormat(format).WithInRoomAndOnline(c.Speech.InRoomAndOnline)
	if c.Speech.Language != "" {
		sc = sc.WithLanguage(c.Speech.Language)
	}
	return sc, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
