package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	p1, _ := NewParticipant("one", "", "")
	p2, _ := NewParticipant("two", "", "")

	require.NoError(t, r.Add(p1))
	require.NoError(t, r.Add(p2))
	require.ErrorIs(t, r.Add(p1), ErrDuplicateParticipant)
	require.Equal(t, 2, r.Len())

	got, ok := r.Resolve("two")
	require.True(t, ok)
	require.Same(t, p2, got)

	snap := r.Snapshot()
	removed, err := r.Remove("one")
	require.NoError(t, err)
	require.Same(t, p1, removed)

	// Earlier snapshots are unaffected by later changes.
	require.Len(t, snap, 2)
	require.Len(t, r.Snapshot(), 1)

	_, err = r.Remove("one")
	require.ErrorIs(t, err, ErrNotFound)
	_, ok = r.Resolve("one")
	require.False(t, ok)
}
