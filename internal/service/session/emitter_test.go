package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conversation-transcriber-service/internal/models"
)

func dispatcherRunning(e *emitter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func TestEmitter_DispatcherStartsOnFirstEvent(t *testing.T) {
	e := newEmitter(nil)
	require.False(t, dispatcherRunning(e))

	got := make(chan models.TranscriptionEvent, 4)
	e.subscribe(func(ev models.TranscriptionEvent) { got <- ev })

	require.True(t, e.emit(models.TranscriptionEvent{Kind: models.EventSessionStarted}))
	require.True(t, dispatcherRunning(e))
	require.True(t, e.emit(models.TranscriptionEvent{Kind: models.EventSessionStopped}))
	require.False(t, e.emit(models.TranscriptionEvent{Kind: models.EventTranscribing}))

	select {
	case <-e.done():
	case <-time.After(time.Second):
		t.Fatal("terminal event was not delivered")
	}
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), (<-got).Sequence)
	require.Equal(t, uint64(2), (<-got).Sequence)
}

func TestSession_UnstartedSessionHasNoDispatcher(t *testing.T) {
	m, _ := newSession(t, newConversation(t), newFakeAdapter(), DefaultConfig())
	require.False(t, dispatcherRunning(m.events))

	require.NoError(t, m.Close())
	waitDone(t, m)
	require.True(t, dispatcherRunning(m.events))
}
