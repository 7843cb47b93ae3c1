package transcriber

import (
	"context"
	"errors"
	"io"
	"time"

	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
)

// overflowBackoff is how long the pull pump waits before retrying a
// segment the session queue rejected.
const overflowBackoff = 10 * time.Millisecond

// sink forwards push stream writes to one session.
type sink struct {
	t    *Transcriber
	sess *session.Manager
}

func (s *sink) Feed(seg audio.Segment) error {
	return s.sess.Feed(seg)
}

// EndOfStream stops the session in the background; Close on the push
// stream does not wait for the drain.
func (s *sink) EndOfStream() {
	s.t.log.Debug().Str("sessionId", s.sess.ID()).Msg("Audio input closed, stopping session")
	go func() {
		err := s.t.stopSession(context.Background(), s.sess)
		if err != nil && !errors.Is(err, session.ErrInvalidState) && !errors.Is(err, session.ErrCanceled) {
			s.t.log.Warn().Err(err).Str("sessionId", s.sess.ID()).Msg("Stop after end of stream failed")
		}
	}()
}

// runPump reads the pull input into sess until EOF, then stops it.
func (t *Transcriber) runPump(sess *session.Manager) {
	defer t.pump.Done()
	log := t.log.With().Str("sessionId", sess.ID()).Logger()

	for {
		seg, err := t.input.pull.Next()
		if errors.Is(err, io.EOF) {
			log.Debug().Msg("Audio input exhausted, stopping session")
			if err := t.stopSession(context.Background(), sess); err != nil && !errors.Is(err, session.ErrInvalidState) {
				log.Debug().Err(err).Msg("Stop after end of input")
			}
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Reading audio input failed")
			_ = sess.Cancel(models.CancelError, err)
			return
		}

		if !t.feed(sess, seg) {
			return
		}
	}
}

// feed hands seg to sess, waiting out overflows. It reports false once the
// session no longer accepts audio.
func (t *Transcriber) feed(sess *session.Manager, seg audio.Segment) bool {
	for {
		err := sess.Feed(seg)
		switch {
		case err == nil:
			return true
		case errors.Is(err, session.ErrOverflow):
			select {
			case <-time.After(overflowBackoff):
			case <-sess.Done():
				return false
			}
		default:
			return false
		}
	}
}
