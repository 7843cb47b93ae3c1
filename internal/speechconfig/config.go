// Package speechconfig holds the immutable configuration a conversation and
// its transcription sessions are created from.
package speechconfig

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
)

// OutputFormat selects how much detail recognition results carry.
type OutputFormat int

const (
	OutputSimple OutputFormat = iota
	OutputDetailed
)

func (f OutputFormat) String() string {
	switch f {
	case OutputSimple:
		return "simple"
	case OutputDetailed:
		return "detailed"
	default:
		return fmt.Sprintf("OutputFormat(%d)", int(f))
	}
}

// ParseOutputFormat accepts "simple" or "detailed" (case-insensitive).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "simple":
		return OutputSimple, nil
	case "detailed":
		return OutputDetailed, nil
	default:
		return OutputSimple, fmt.Errorf("unknown output format %q", s)
	}
}

// DefaultLanguage is sent to the service when no recognition language is set.
const DefaultLanguage = "en-us"

// regionEndpoint is used when the config is built from a subscription and region.
const regionEndpoint = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"

// Property names exposed by transcribers.
const (
	PropertyConnectionURL   = "SpeechServiceConnection_Url"
	PropertyRecoLanguage    = "SpeechServiceConnection_RecoLanguage"
	PropertyInRoomAndOnline = "ConversationTranscriptionInRoomAndOnline"
)

var ErrInvalidConfig = errors.New("invalid speech config")

// Config is immutable once built; With* methods return modified copies.
type Config struct {
	endpoint        string
	subscriptionKey string
	region          string
	language        string
	outputFormat    OutputFormat
	inRoomAndOnline bool
	properties      map[string]string
}

// FromEndpoint builds a config that connects to an explicit endpoint URL.
func FromEndpoint(endpoint, subscriptionKey string) (Config, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("%w: endpoint %q", ErrInvalidConfig, endpoint)
	}
	return Config{endpoint: endpoint, subscriptionKey: subscriptionKey}, nil
}

// FromSubscription builds a config for the regional endpoint.
func FromSubscription(subscriptionKey, region string) (Config, error) {
	if subscriptionKey == "" || region == "" {
		return Config{}, fmt.Errorf("%w: subscription key and region are required", ErrInvalidConfig)
	}
	return Config{subscriptionKey: subscriptionKey, region: region}, nil
}

func (c Config) clone() Config {
	c.properties = maps.Clone(c.properties)
	return c
}

// WithLanguage sets the recognition language.
func (c Config) WithLanguage(lang string) Config {
	c = c.clone()
	c.language = lang
	return c
}

// WithOutputFormat sets the result detail level.
func (c Config) WithOutputFormat(f OutputFormat) Config {
	c = c.clone()
	c.outputFormat = f
	return c
}

// WithInRoomAndOnline marks the conversation as mixing in-room and remote participants.
func (c Config) WithInRoomAndOnline(v bool) Config {
	c = c.clone()
	c.inRoomAndOnline = v
	return c
}

// WithProperty sets a free-form property.
func (c Config) WithProperty(name, value string) Config {
	c = c.clone()
	if c.properties == nil {
		c.properties = make(map[string]string)
	}
	c.properties[name] = value
	if name == PropertyInRoomAndOnline {
		c.inRoomAndOnline = strings.EqualFold(value, "true")
	}
	return c
}

func (c Config) Endpoint() string            { return c.endpoint }
func (c Config) SubscriptionKey() string     { return c.subscriptionKey }
func (c Config) Region() string              { return c.region }
func (c Config) Language() string            { return c.language }
func (c Config) OutputFormat() OutputFormat  { return c.outputFormat }
func (c Config) InRoomAndOnline() bool       { return c.inRoomAndOnline }
func (c Config) Property(name string) string { return c.properties[name] }

// Properties returns a copy of all free-form properties.
func (c Config) Properties() map[string]string {
	return maps.Clone(c.properties)
}

// ConnectionURL returns the URL a session for conversationID connects to.
// The language parameter falls back to DefaultLanguage.
func (c Config) ConnectionURL(conversationID string) (string, error) {
	base := c.endpoint
	if base == "" {
		if c.region == "" {
			return "", fmt.Errorf("%w: neither endpoint nor region set", ErrInvalidConfig)
		}
		base = fmt.Sprintf(regionEndpoint, c.region)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	lang := c.language
	if lang == "" {
		lang = DefaultLanguage
	}

	q := u.Query()
	q.Set("language", lang)
	q.Set("format", c.outputFormat.String())
	if conversationID != "" {
		q.Set("conversationId", conversationID)
	}
	if c.inRoomAndOnline {
		q.Set("inRoomAndOnline", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
