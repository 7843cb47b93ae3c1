package session

import (
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/service/segment"
)

// The Manager is the recognizer's stt.Callback. Results are accepted from
// the moment SessionStarted is emitted until the terminal event. Each
// utterance yields any number of Transcribing events followed by at most
// one Transcribed event; an utterance that ends without a final is dropped.
// Results for a dropped utterance are ignored until the recognizer moves
// on to the next one.

func (m *Manager) acceptingResults() bool {
	return m.started && !m.state.IsTerminal()
}

func (m *Manager) OnPartial(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptingResults() {
		return
	}

	if err := m.utt.Partial(); err != nil {
		m.log.Debug().Err(err).Str("resultId", m.utt.ID()).Stringer("state", m.utt.State()).Msg("Partial ignored")
		return
	}
	if reason, over := m.utt.Exceeds(m.cfg.Limits); over {
		m.dropUtteranceLocked("limit", reason)
		return
	}
	m.emitLocked(m.resultEvent(models.EventTranscribing, models.ReasonRecognizingSpeech, text, 0))
}

func (m *Manager) OnFinal(text string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptingResults() {
		return
	}

	if m.utt.IsDropped() {
		m.rotateLocked()
		return
	}
	if err := m.utt.Final(); err != nil {
		m.log.Debug().Err(err).Str("resultId", m.utt.ID()).Stringer("state", m.utt.State()).Msg("Final ignored")
		return
	}
	m.emitLocked(m.resultEvent(models.EventTranscribed, models.ReasonRecognizedSpeech, text, confidence))
	m.metrics.RecordUtteranceCompleted()
	m.rotateLocked()
}

func (m *Manager) OnNoMatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptingResults() {
		return
	}

	if m.utt.IsDropped() {
		m.rotateLocked()
		return
	}
	if err := m.utt.Final(); err != nil {
		return
	}
	m.emitLocked(m.resultEvent(models.EventTranscribed, models.ReasonNoMatch, "", 0))
	m.rotateLocked()
}

func (m *Manager) OnEndOfUtterance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptingResults() {
		return
	}

	// A boundary right after a final finds a fresh utterance and does nothing.
	switch {
	case m.utt.IsDropped():
		m.rotateLocked()
	case m.utt.State() == segment.StateOpen && m.utt.Partials() > 0:
		m.dropUtteranceLocked("no_final", "end of utterance without final")
		m.rotateLocked()
	}
}

func (m *Manager) OnError(err error) {
	m.log.Error().Err(err).Msg("Recognizer error")
	m.metrics.RecordSTTError(m.provider, Classify(err).String())
	if cerr := m.Cancel(models.CancelError, err); cerr != nil {
		m.log.Debug().Err(cerr).Msg("Recognizer error after session ended")
	}
}

func (m *Manager) resultEvent(kind models.EventKind, reason models.ResultReason, text string, confidence float64) models.TranscriptionEvent {
	speaker := m.utt.Speaker()
	if speaker == "" {
		speaker = models.Unidentified
	}
	return models.TranscriptionEvent{
		Kind:       kind,
		ResultID:   m.utt.ID(),
		SpeakerID:  speaker,
		Text:       text,
		Reason:     reason,
		Offset:     m.utt.Start(),
		Duration:   m.utt.Duration(),
		Confidence: confidence,
	}
}

// dropUtteranceLocked abandons the current utterance. kind is a metric
// label; detail is logged.
func (m *Manager) dropUtteranceLocked(kind, detail string) {
	id, partials := m.utt.ID(), m.utt.Partials()
	if m.utt.Drop() {
		m.metrics.RecordUtteranceDropped(kind)
		m.log.Warn().
			Str("resultId", id).
			Int("partials", partials).
			Str("reason", detail).
			Msg("Utterance dropped")
	}
}

// rotateLocked closes the current utterance and opens the next one at the
// current stream position.
func (m *Manager) rotateLocked() {
	m.utt.Close()
	m.utt = segment.NewUtterance(m.ids.Next(), m.position)
}
