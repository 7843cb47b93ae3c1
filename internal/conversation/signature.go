package conversation

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"conversation-transcriber-service/internal/schema"
)

// VoiceSignature is an enrollment artifact as returned by the enrollment
// service. Data holds a base64 blob; when the blob is a whole number of
// little-endian float32 values it doubles as a speaker embedding.
type VoiceSignature struct {
	Version int    `json:"Version" validate:"gte=0"`
	Tag     string `json:"Tag" validate:"required,base64"`
	Data    string `json:"Data" validate:"required,base64"`

	embedding []float32
}

// ParseVoiceSignature parses and validates signature JSON. An empty (or
// blank) string means "no signature" and yields nil without error.
func ParseVoiceSignature(raw string) (*VoiceSignature, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var sig VoiceSignature
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVoiceSignature, err)
	}
	if err := sig.init(); err != nil {
		return nil, err
	}
	return &sig, nil
}

// NewVoiceSignature builds a signature from its fields, validating them the
// same way ParseVoiceSignature does.
func NewVoiceSignature(version int, tag, data string) (*VoiceSignature, error) {
	sig := &VoiceSignature{Version: version, Tag: tag, Data: data}
	if err := sig.init(); err != nil {
		return nil, err
	}
	return sig, nil
}

// SignatureFromEmbedding encodes an embedding as a signature.
func SignatureFromEmbedding(version int, tag []byte, emb []float32) *VoiceSignature {
	buf := make([]byte, 4*len(emb))
	for i, v := range emb {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return &VoiceSignature{
		Version:   version,
		Tag:       base64.StdEncoding.EncodeToString(tag),
		Data:      base64.StdEncoding.EncodeToString(buf),
		embedding: append([]float32(nil), emb...),
	}
}

func (s *VoiceSignature) init() error {
	if err := schema.Validate(s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedVoiceSignature, err)
	}
	blob, err := base64.StdEncoding.DecodeString(s.Data)
	if err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedVoiceSignature, err)
	}
	if len(blob) > 0 && len(blob)%4 == 0 {
		s.embedding = make([]float32, len(blob)/4)
		for i := range s.embedding {
			s.embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
		}
	}
	return nil
}

// Embedding returns the decoded vector, or nil when Data is not a float32 blob.
func (s *VoiceSignature) Embedding() []float32 {
	if s == nil {
		return nil
	}
	return s.embedding
}

// JSON returns the signature in enrollment-service form.
func (s *VoiceSignature) JSON() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
