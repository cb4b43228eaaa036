package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrammar(t *testing.T) {
	tests := []struct {
		uri   string
		kind  Kind
		id    string
		owner string
	}{
		{"catalog:track:2wlrp6dmd7", KindTrack, "2wlrp6dmd7", ""},
		{"catalog:album:7fkx93b1", KindAlbum, "7fkx93b1", ""},
		{"catalog:artist:9qz44m", KindArtist, "9qz44m", ""},
		{"catalog:playlist:5ab21x", KindPlaylist, "5ab21x", ""},
		{"catalog:user:alice:playlist:5ab21x", KindPlaylist, "5ab21x", "alice"},
		{"catalog:user:alice:starred", KindPlaylist, "", "alice"},
		{"catalog:your:tracks", KindYourMusic, "", ""},
		{"catalog:your:albums", KindYourMusic, "", ""},
		{"https://player.example.com/playlist/alice/5ab21x", KindPlaylist, "5ab21x", "alice"},
		{"https://player.example.com/track/2wlrp6dmd7", KindTrack, "2wlrp6dmd7", ""},
		{"https://player.example.com/album/7fkx93b1", KindAlbum, "7fkx93b1", ""},
		{"https://player.example.com/artist/9qz44m", KindArtist, "9qz44m", ""},
		{"https://player.example.com/playlist/5ab21x", KindPlaylist, "5ab21x", ""},
		{"https://play.example.com/track/2wlrp6dmd7", KindTrack, "2wlrp6dmd7", ""},
		{"http://player.example.com/track/2wlrp6dmd7", KindTrack, "2wlrp6dmd7", ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			l, err := Parse(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.uri, l.URI)
			assert.Equal(t, tt.kind, l.Kind)
			assert.Equal(t, tt.id, l.ID)
			assert.Equal(t, tt.owner, l.Owner)
		})
	}
}

func TestParseFailures(t *testing.T) {
	uris := []string{
		"",
		"local:user:alice:playlist:foo",
		"catalog:track:foo:bar",
		"catalog:album:",
		"catalog:",
		"catalog:your",
		"catalog:user:alice",
		"catalog:user:alice:playlist",
		"https://other.example.com/track/abc",
		"https://player.example.com/video/abc",
		"https://player.example.com/track",
		"https://player.example.com/playlist/a/b/c",
		"not a uri at all",
	}
	for _, uri := range uris {
		t.Run(uri, func(t *testing.T) {
			l, err := Parse(uri)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidURI)
			assert.Nil(t, l)
		})
	}
}

func TestParseStripsEmptySegments(t *testing.T) {
	// Doubled separators collapse; the remaining segments must still match.
	l, err := Parse("catalog::track::abc")
	require.NoError(t, err)
	assert.Equal(t, KindTrack, l.Kind)
	assert.Equal(t, "abc", l.ID)

	_, err = Parse("https://player.example.com//track//")
	require.Error(t, err)
}
