package conversation

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is the ordered participant set of a conversation.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []*Participant
	byID  map[string]*Participant
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Participant)}
}

// Add appends p. It fails with ErrDuplicateParticipant if the id is present.
func (r *Registry) Add(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[p.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.id)
	}
	r.byID[p.id] = p
	r.order = append(r.order, p)
	return nil
}

// Remove deletes the participant with the given id and returns it.
func (r *Registry) Remove(id string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(q *Participant) bool { return q == p })
	return p, nil
}

func (r *Registry) Resolve(id string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Snapshot returns the participants in insertion order. The slice is a copy.
func (r *Registry) Snapshot() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
