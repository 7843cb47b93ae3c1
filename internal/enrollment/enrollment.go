// Package enrollment turns voice samples into voice signatures, either by
// calling the enrollment service or by deriving them locally.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"conversation-transcriber-service/internal/conversation"
)

// StatusOK is the status the enrollment service reports for a usable signature.
const StatusOK = "OK"

var (
	ErrEmptySample = errors.New("voice sample is empty")
	ErrRejected    = errors.New("voice sample rejected by enrollment")
)

// Result is the enrollment service response.
type Result struct {
	Status        string
	Signature     *conversation.VoiceSignature
	Transcription string
}

// Enroller creates a voice signature from a voice sample (WAV or raw PCM).
type Enroller interface {
	Enroll(ctx context.Context, sample []byte) (*Result, error)
}

type response struct {
	Status        string          `json:"Status"`
	Signature     json.RawMessage `json:"Signature"`
	Transcription string          `json:"Transcription"`
}

// decodeResult parses a service response. A non-OK status yields
// ErrRejected; a malformed signature yields
// conversation.ErrMalformedVoiceSignature.
func decodeResult(body []byte) (*Result, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode enrollment response: %w", err)
	}
	if resp.Status != StatusOK {
		return nil, fmt.Errorf("%w: status %q", ErrRejected, resp.Status)
	}

	sig, err := conversation.ParseVoiceSignature(string(resp.Signature))
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: no signature in response", conversation.ErrMalformedVoiceSignature)
	}
	return &Result{Status: resp.Status, Signature: sig, Transcription: resp.Transcription}, nil
}

// MarshalJSON renders the result in the enrollment service's form.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status        string                       `json:"Status"`
		Signature     *conversation.VoiceSignature `json:"Signature"`
		Transcription string                       `json:"Transcription"`
	}{r.Status, r.Signature, r.Transcription})
}
