package speechconfig

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionURL_DefaultLanguageAndDetailedFormat(t *testing.T) {
	cfg, err := FromEndpoint("wss://cts.example.com/multiaudio", "key")
	require.NoError(t, err)
	cfg = cfg.WithOutputFormat(OutputDetailed)

	raw, err := cfg.ConnectionURL("meeting-1")
	require.NoError(t, err)
	require.Contains(t, raw, "format=detailed")
	require.Contains(t, raw, "language=en-us")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "meeting-1", u.Query().Get("conversationId"))
	require.Equal(t, "/multiaudio", u.Path)
}

func TestConnectionURL_ExplicitLanguage(t *testing.T) {
	cfg, err := FromSubscription("key", "westus")
	require.NoError(t, err)

	raw, err := cfg.WithLanguage("zh-CN").ConnectionURL("的")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "westus.stt.speech.microsoft.com", u.Host)
	require.Equal(t, "zh-CN", u.Query().Get("language"))
	require.Equal(t, "simple", u.Query().Get("format"))
	require.Equal(t, "的", u.Query().Get("conversationId"))
}

func TestConfig_WithIsCopyOnWrite(t *testing.T) {
	base, err := FromEndpoint("https://example.com/x", "k")
	require.NoError(t, err)

	a := base.WithProperty("iCalUid", "abc")
	b := a.WithProperty("iCalUid", "def")

	require.Equal(t, "", base.Property("iCalUid"))
	require.Equal(t, "abc", a.Property("iCalUid"))
	require.Equal(t, "def", b.Property("iCalUid"))
}

func TestWithProperty_InRoomAndOnline(t *testing.T) {
	cfg, err := FromEndpoint("https://example.com/x", "k")
	require.NoError(t, err)

	cfg = cfg.WithProperty(PropertyInRoomAndOnline, "true")
	require.True(t, cfg.InRoomAndOnline())

	raw, err := cfg.ConnectionURL("")
	require.NoError(t, err)
	require.Contains(t, raw, "inRoomAndOnline=true")
	require.NotContains(t, raw, "conversationId")
}

func TestFromEndpoint_Invalid(t *testing.T) {
	_, err := FromEndpoint("not a url", "k")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = FromSubscription("", "westus")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputSimple, false},
		{"simple", OutputSimple, false},
		{"Detailed", OutputDetailed, false},
		{"verbose", OutputSimple, true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
