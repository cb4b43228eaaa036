// Package link parses catalog URIs into typed resource references.
//
// Two URI forms are accepted: the native "catalog:" scheme and http(s) URLs
// pointing at one of the recognized web-player hosts. Parsing is total:
// either a fully populated Link comes back or an error wrapping ErrInvalidURI.
package link

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the native catalog URI scheme.
const Scheme = "catalog"

// webHosts are the web-player hosts whose share URLs we recognize. The second
// entry is a legacy alias that still appears in old playlists.
var webHosts = map[string]bool{
	"player.example.com": true,
	"play.example.com":   true,
}

// ErrInvalidURI is wrapped by every parse failure.
var ErrInvalidURI = errors.New("invalid catalog URI")

// Kind identifies the category of catalog resource a URI points at.
type Kind int

const (
	KindTrack Kind = iota
	KindAlbum
	KindArtist
	KindPlaylist
	KindYourMusic
)

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindAlbum:
		return "album"
	case KindArtist:
		return "artist"
	case KindPlaylist:
		return "playlist"
	case KindYourMusic:
		return "your-music"
	default:
		return "unknown"
	}
}

// Link is a typed reference to a catalog resource. Identity for caching
// purposes is (Kind, ID); URI is carried for reporting only.
type Link struct {
	URI   string
	Kind  Kind
	ID    string // empty for YourMusic and legacy starred playlists
	Owner string // set only for user-owned and legacy playlist forms
}

// Parse turns a catalog URI into a Link. It never returns a partially
// populated result: anything outside the grammar fails with ErrInvalidURI.
func Parse(uri string) (*Link, error) {
	if rest, ok := strings.CutPrefix(uri, Scheme+":"); ok {
		if l := parseNative(uri, rest); l != nil {
			return l, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		if l := parseWebURL(uri); l != nil {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
}

// parseNative matches the colon-separated forms of the native scheme.
func parseNative(uri, rest string) *Link {
	seg := splitNonEmpty(rest, ":")
	switch {
	case len(seg) == 2 && seg[0] == "track":
		return &Link{URI: uri, Kind: KindTrack, ID: seg[1]}
	case len(seg) == 2 && seg[0] == "album":
		return &Link{URI: uri, Kind: KindAlbum, ID: seg[1]}
	case len(seg) == 2 && seg[0] == "artist":
		return &Link{URI: uri, Kind: KindArtist, ID: seg[1]}
	case len(seg) == 2 && seg[0] == "playlist":
		return &Link{URI: uri, Kind: KindPlaylist, ID: seg[1]}
	case len(seg) == 4 && seg[0] == "user" && seg[2] == "playlist":
		return &Link{URI: uri, Kind: KindPlaylist, ID: seg[3], Owner: seg[1]}
	case len(seg) == 3 && seg[0] == "user" && seg[2] == "starred":
		return &Link{URI: uri, Kind: KindPlaylist, Owner: seg[1]}
	case len(seg) == 2 && seg[0] == "your":
		return &Link{URI: uri, Kind: KindYourMusic}
	}
	return nil
}

// parseWebURL matches web-player share URLs.
func parseWebURL(uri string) *Link {
	u, err := url.Parse(uri)
	if err != nil || !webHosts[u.Host] {
		return nil
	}
	seg := splitNonEmpty(u.Path, "/")
	switch {
	case len(seg) == 3 && seg[0] == "playlist":
		return &Link{URI: uri, Kind: KindPlaylist, ID: seg[2], Owner: seg[1]}
	case len(seg) == 2:
		if kind, ok := kindFromName(seg[0]); ok {
			return &Link{URI: uri, Kind: kind, ID: seg[1]}
		}
	}
	return nil
}

func kindFromName(name string) (Kind, bool) {
	switch name {
	case "track":
		return KindTrack, true
	case "album":
		return KindAlbum, true
	case "artist":
		return KindArtist, true
	case "playlist":
		return KindPlaylist, true
	}
	return 0, false
}

// splitNonEmpty splits s on sep and drops empty segments, so doubled
// separators never produce phantom matches.
func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
