package session

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/metrics"
)

// Listener receives session events. Events of one session are delivered
// one at a time, in emission order, from a single goroutine. A listener
// must not block on the session it listens to.
type Listener func(models.TranscriptionEvent)

// emitter queues events and delivers them from one dispatcher goroutine,
// started by the first emit. Nothing is accepted after the terminal event.
type emitter struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     deque.Deque[models.TranscriptionEvent]
	listeners []Listener
	seq       uint64
	offset    time.Duration
	terminal  bool
	running   bool
	delivered chan struct{}
	metrics   *metrics.Metrics
}

func newEmitter(m *metrics.Metrics) *emitter {
	e := &emitter{delivered: make(chan struct{}), metrics: m}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *emitter) subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// emit stamps ev with the next sequence number and queues it. Offsets are
// clamped so that they never go backwards. It reports false once the
// terminal event has been queued.
func (e *emitter) emit(ev models.TranscriptionEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal {
		return false
	}
	e.seq++
	ev.Sequence = e.seq
	if ev.Offset < e.offset {
		ev.Offset = e.offset
	}
	e.offset = ev.Offset
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Kind.IsTerminal() {
		e.terminal = true
	}

	e.queue.PushBack(ev)
	if !e.running {
		e.running = true
		go e.dispatch()
	}
	e.cond.Signal()
	e.metrics.RecordEvent(ev.Kind.String())
	return true
}

func (e *emitter) dispatch() {
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 {
			e.cond.Wait()
		}
		ev := e.queue.PopFront()
		listeners := e.listeners
		e.mu.Unlock()

		for _, l := range listeners {
			l(ev)
		}
		if ev.Kind.IsTerminal() {
			close(e.delivered)
			return
		}
	}
}

// done is closed after the terminal event was delivered to every listener.
func (e *emitter) done() <-chan struct{} {
	return e.delivered
}
