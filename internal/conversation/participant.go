package conversation

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

// Participant is an identified speaker. Its fields never change after
// construction; only its conversation ownership does.
type Participant struct {
	id        string
	language  string
	signature *VoiceSignature

	owner atomic.Pointer[Conversation]
}

// NewParticipant builds a participant from raw fields.
//
// lang must be a BCP-47 tag. An empty tag leaves the language unset; an
// invalid tag is ignored with a warning, so the participant is created with
// no language. signatureJSON may be empty; otherwise it must be a valid
// VoiceSignature document.
func NewParticipant(userID, lang, signatureJSON string) (*Participant, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidParticipant)
	}

	sig, err := ParseVoiceSignature(signatureJSON)
	if err != nil {
		return nil, err
	}

	return &Participant{
		id:        userID,
		language:  canonicalLanguage(userID, lang),
		signature: sig,
	}, nil
}

// NewParticipantWithSignature is NewParticipant for an already parsed signature.
func NewParticipantWithSignature(userID, lang string, sig *VoiceSignature) (*Participant, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidParticipant)
	}
	return &Participant{
		id:        userID,
		language:  canonicalLanguage(userID, lang),
		signature: sig,
	}, nil
}

func canonicalLanguage(userID, lang string) string {
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		log.Warn().
			Str("participant", userID).
			Str("language", lang).
			Err(err).
			Msg("Ignoring invalid preferred language")
		return ""
	}
	return tag.String()
}

func (p *Participant) ID() string                 { return p.id }
func (p *Participant) Language() string           { return p.language }
func (p *Participant) Signature() *VoiceSignature { return p.signature }

// HasSignature reports whether the participant is enrolled.
func (p *Participant) HasSignature() bool { return p.signature != nil }

// Conversation returns the conversation currently owning the participant, if any.
func (p *Participant) Conversation() *Conversation { return p.owner.Load() }

// User is a bare user identity; adding it to a conversation creates a
// participant with no language and no signature.
type User struct {
	id string
}

func NewUser(id string) (User, error) {
	if id == "" {
		return User{}, fmt.Errorf("%w: empty user id", ErrInvalidParticipant)
	}
	return User{id: id}, nil
}

func (u User) ID() string { return u.id }
