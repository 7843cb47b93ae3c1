package conversation

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"conversation-transcriber-service/internal/speechconfig"
)

func testConfig(t *testing.T) speechconfig.Config {
	t.Helper()
	cfg, err := speechconfig.FromEndpoint("wss://cts.example.com/multiaudio", "key")
	require.NoError(t, err)
	return cfg
}

func readSignature(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name + ".json")
	require.NoError(t, err)
	return string(b)
}

func TestNew_IDRoundTrip(t *testing.T) {
	for _, id := range []string{"123 456", "的", "réunion-ü-🎙", "a"} {
		c, err := New(testConfig(t), id)
		require.NoError(t, err)
		require.Equal(t, id, c.ID())
		require.Equal(t, []byte(id), []byte(c.ID()))
	}
}

func TestNew_EmptyIDGenerated(t *testing.T) {
	a, err := New(testConfig(t), "")
	require.NoError(t, err)
	b, err := New(testConfig(t), "")
	require.NoError(t, err)

	require.Len(t, a.ID(), 36)
	require.NotEqual(t, a.ID(), b.ID())
}

func TestNew_InvalidUTF8(t *testing.T) {
	_, err := New(testConfig(t), string([]byte{0xff, 0xfe}))
	require.ErrorIs(t, err, ErrInvalidConversationID)
}

func TestNewParticipant_Language(t *testing.T) {
	katie := readSignature(t, "katie")

	p, err := NewParticipant("xyz@example.com", "zh-cn", katie)
	require.NoError(t, err)
	require.Equal(t, "zh-CN", p.Language())
	require.True(t, p.HasSignature())

	p, err = NewParticipant("xyz@example.com", "", katie)
	require.NoError(t, err)
	require.Equal(t, "", p.Language())

	// Invalid tags are ignored the same way, whatever they look like.
	for _, bad := range []string{"invalid", "not a tag", "e", "en-toolongsubtag"} {
		p, err = NewParticipant("xyz@example.com", bad, katie)
		require.NoError(t, err, bad)
		require.Equal(t, "", p.Language(), bad)
	}
}

func TestNewParticipant_Signature(t *testing.T) {
	p, err := NewParticipant("katie@example.com", "en-US", readSignature(t, "katie"))
	require.NoError(t, err)
	require.Equal(t, 0, p.Signature().Version)
	require.Len(t, p.Signature().Embedding(), 132)

	p, err = NewParticipant("nobody", "en-US", "")
	require.NoError(t, err)
	require.False(t, p.HasSignature())
	require.Nil(t, p.Signature().Embedding())

	_, err = NewParticipant("xyz@example.com", "en-US", "1.1, 2.2")
	require.ErrorIs(t, err, ErrMalformedVoiceSignature)

	_, err = NewParticipant("xyz@example.com", "en-US", `{"Version": 0, "Tag": "", "Data": "AAAA"}`)
	require.ErrorIs(t, err, ErrMalformedVoiceSignature)

	_, err = NewParticipant("xyz@example.com", "en-US", `{"Version": -1, "Tag": "AAAA", "Data": "AAAA"}`)
	require.ErrorIs(t, err, ErrMalformedVoiceSignature)

	_, err = NewParticipant("", "en-US", "")
	require.ErrorIs(t, err, ErrInvalidParticipant)
}

func TestSignatureFromEmbedding_RoundTrip(t *testing.T) {
	sig := SignatureFromEmbedding(1, []byte("tag"), []float32{0.5, -1.25, 3})
	raw, err := sig.JSON()
	require.NoError(t, err)

	parsed, err := ParseVoiceSignature(raw)
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -1.25, 3}, parsed.Embedding())
	require.Equal(t, 1, parsed.Version)
}

func TestConversation_AddRemove(t *testing.T) {
	c, err := New(testConfig(t), "meeting")
	require.NoError(t, err)

	katie, err := NewParticipant("katie@example.com", "en-US", readSignature(t, "katie"))
	require.NoError(t, err)
	steve, err := NewParticipant("steve@example.com", "en-US", readSignature(t, "steve"))
	require.NoError(t, err)

	require.NoError(t, c.AddParticipant(katie))
	require.NoError(t, c.AddParticipant(steve))
	require.ErrorIs(t, c.AddParticipant(katie), ErrDuplicateParticipant)

	user, err := NewUser("userId")
	require.NoError(t, err)
	_, err = c.AddUser(user)
	require.NoError(t, err)

	ids := func() []string {
		var out []string
		for _, p := range c.Participants() {
			out = append(out, p.ID())
		}
		return out
	}
	require.Equal(t, []string{"katie@example.com", "steve@example.com", "userId"}, ids())

	require.NoError(t, c.RemoveParticipant("steve@example.com"))
	require.ErrorIs(t, c.RemoveParticipant("steve@example.com"), ErrNotFound)
	require.ErrorIs(t, c.RemoveParticipant("never-added"), ErrNotFound)
	require.Equal(t, []string{"katie@example.com", "userId"}, ids())

	// Same id, different participant object.
	dup, err := NewParticipant("katie@example.com", "", "")
	require.NoError(t, err)
	require.ErrorIs(t, c.AddParticipant(dup), ErrDuplicateParticipant)
	require.Nil(t, dup.Conversation())
}

func TestConversation_ParticipantOwnership(t *testing.T) {
	a, err := New(testConfig(t), "a")
	require.NoError(t, err)
	b, err := New(testConfig(t), "b")
	require.NoError(t, err)

	p, err := NewParticipant("shared", "", "")
	require.NoError(t, err)

	require.NoError(t, a.AddParticipant(p))
	require.Same(t, a, p.Conversation())
	require.ErrorIs(t, b.AddParticipant(p), ErrParticipantAttached)

	require.NoError(t, a.RemoveParticipant("shared"))
	require.NoError(t, b.AddParticipant(p))
	require.Same(t, b, p.Conversation())
}

func TestConversation_Close(t *testing.T) {
	c, err := New(testConfig(t), "closing")
	require.NoError(t, err)
	p, err := c.AddParticipantByID("someone")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, c.Closed())
	require.Nil(t, p.Conversation())
	require.Empty(t, c.Participants())

	_, err = c.AddParticipantByID("late")
	require.ErrorIs(t, err, ErrConversationClosed)
	require.ErrorIs(t, c.RemoveParticipant("someone"), ErrConversationClosed)
	require.ErrorIs(t, c.SetProperty("iCalUid", "x"), ErrConversationClosed)

	other, err := New(testConfig(t), "next")
	require.NoError(t, err)
	require.NoError(t, other.AddParticipant(p))
}

func TestConversation_Properties(t *testing.T) {
	c, err := New(testConfig(t), "props")
	require.NoError(t, err)

	require.NoError(t, c.SetProperty("iCalUid", "040000008200E00074C5B7101A82E008"))
	require.Equal(t, "040000008200E00074C5B7101A82E008", c.Property("iCalUid"))

	props := c.Properties()
	props["iCalUid"] = "mutated"
	require.Equal(t, "040000008200E00074C5B7101A82E008", c.Property("iCalUid"))
}

func TestConversation_ConcurrentAddsOneWinner(t *testing.T) {
	a, err := New(testConfig(t), "a")
	require.NoError(t, err)
	b, err := New(testConfig(t), "b")
	require.NoError(t, err)
	p, err := NewParticipant("contended", "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*Conversation{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.AddParticipant(p)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrParticipantAttached)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, a.registry.Len()+b.registry.Len())
}
