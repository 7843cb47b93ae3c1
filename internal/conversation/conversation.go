// Package conversation models a multi-participant transcription context:
// its identity, its participants and their voice signatures.
package conversation

import (
	"fmt"
	"maps"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/speechconfig"
)

// Conversation owns a participant registry. Participants added to one
// conversation cannot be added to another until removed.
type Conversation struct {
	id       string
	config   speechconfig.Config
	registry *Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu         sync.RWMutex
	properties map[string]string
	closed     bool
}

type Option func(*Conversation)

// WithMetrics records participant changes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conversation) { c.metrics = m }
}

// New creates a conversation. An empty id is replaced with a generated UUID;
// any other id is kept byte for byte but must be valid UTF-8.
func New(cfg speechconfig.Config, id string, opts ...Option) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !utf8.ValidString(id) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidConversationID)
	}

	c := &Conversation{
		id:         id,
		config:     cfg,
		registry:   NewRegistry(),
		properties: make(map[string]string),
		log:        logging.WithConversation(id),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Conversation) ID() string                  { return c.id }
func (c *Conversation) Config() speechconfig.Config { return c.config }

// AddParticipant attaches p to the conversation.
func (c *Conversation) AddParticipant(p *Participant) error {
	if p == nil {
		return fmt.Errorf("%w: nil participant", ErrInvalidParticipant)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConversationClosed
	}

	if !p.owner.CompareAndSwap(nil, c) {
		if p.owner.Load() == c {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.id)
		}
		return fmt.Errorf("%w: %s", ErrParticipantAttached, p.id)
	}
	if err := c.registry.Add(p); err != nil {
		p.owner.CompareAndSwap(c, nil)
		return err
	}

	c.metrics.RecordParticipantChange("add")
	c.log.Info().
		Str("participant", p.id).
		Str("language", p.language).
		Bool("enrolled", p.HasSignature()).
		Msg("Participant added")
	return nil
}

// AddUser adds a participant for u with no language and no signature.
func (c *Conversation) AddUser(u User) (*Participant, error) {
	return c.AddParticipantByID(u.ID())
}

// AddParticipantByID creates and adds a participant with only an id.
func (c *Conversation) AddParticipantByID(id string) (*Participant, error) {
	p, err := NewParticipant(id, "", "")
	if err != nil {
		return nil, err
	}
	if err := c.AddParticipant(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveParticipant detaches the participant with the given id, making it
// available to other conversations.
func (c *Conversation) RemoveParticipant(id string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConversationClosed
	}

	p, err := c.registry.Remove(id)
	if err != nil {
		return err
	}
	p.owner.CompareAndSwap(c, nil)

	c.metrics.RecordParticipantChange("remove")
	c.log.Info().Str("participant", id).Msg("Participant removed")
	return nil
}

// Participants returns the current participants in the order they were added.
func (c *Conversation) Participants() []*Participant {
	return c.registry.Snapshot()
}

func (c *Conversation) Resolve(id string) (*Participant, bool) {
	return c.registry.Resolve(id)
}

func (c *Conversation) SetProperty(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConversationClosed
	}
	c.properties[name] = value
	return nil
}

func (c *Conversation) Property(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.properties[name]
}

func (c *Conversation) Properties() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.properties)
}

// Closed reports whether Close has been called.
func (c *Conversation) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close releases all participants. It is idempotent.
func (c *Conversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	for _, p := range c.registry.Snapshot() {
		if _, err := c.registry.Remove(p.id); err == nil {
			p.owner.CompareAndSwap(c, nil)
		}
	}
	c.log.Debug().Msg("Conversation closed")
	return nil
}
