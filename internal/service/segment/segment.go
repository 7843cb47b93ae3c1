package segment

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator hands out result ids of the form <conversation>-seg-<n>.
// Each session owns one, so numbering restarts at 1 per session.
type IDGenerator struct {
	conversationID string
	n              atomic.Uint64
}

func NewIDGenerator(conversationID string) *IDGenerator {
	return &IDGenerator{conversationID: conversationID}
}

func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-seg-%d", g.conversationID, g.n.Add(1))
}

// Issued is the number of ids handed out so far.
func (g *IDGenerator) Issued() uint64 {
	return g.n.Load()
}
