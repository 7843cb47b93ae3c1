package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionConfig_ParticipantsAndSignatures(t *testing.T) {
	dir := t.TempDir()
	sig := filepath.Join(dir, "katie.json")
	doc := `{"Version":0,"Tag":"VGFn","Data":"AACAPw=="}`
	if err := os.WriteFile(sig, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	o := &streamOptions{
		conversationID: "standup",
		participants:   []string{"katie:en-US", "steve"},
		signatures:     []string{"katie=" + sig},
	}
	cfg, err := o.sessionConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ConversationID != "standup" || len(cfg.Participants) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if p := cfg.Participants[0]; p.UserID != "katie" || p.Language != "en-US" || p.Signature != doc {
		t.Errorf("unexpected first participant: %+v", p)
	}
	if p := cfg.Participants[1]; p.UserID != "steve" || p.Language != "" || p.Signature != "" {
		t.Errorf("unexpected second participant: %+v", p)
	}
}

func TestSessionConfig_BadSignatureFlag(t *testing.T) {
	o := &streamOptions{signatures: []string{"katie"}}
	if _, err := o.sessionConfig(); err == nil {
		t.Fatal("expected error for signature without file")
	}
}
