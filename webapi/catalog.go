package webapi

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/soundbridge/catalog/internal/config"
	"github.com/soundbridge/catalog/link"
)

const defaultExtraExpiry = 10 * time.Second

// batchLimits caps how many ids one lookup request may carry per kind.
var batchLimits = map[link.Kind]int{
	link.KindTrack:  50,
	link.KindArtist: 50,
	link.KindAlbum:  20,
}

// batchEndpoints maps a kind to its lookup path and response array field.
var batchEndpoints = map[link.Kind]struct{ path, field string }{
	link.KindTrack:  {"tracks", "tracks"},
	link.KindArtist: {"artists", "artists"},
	link.KindAlbum:  {"albums", "albums"},
}

// playlistFields trims the playlist payload down to what the translation
// layer needs: identity fields plus a nested track projection.
const playlistFields = "name,owner.id,type,uri,snapshot_id," +
	"tracks(next,items(track(uri,name,duration_ms,is_playable," +
	"album(name,uri),artists(name,uri),linked_from.uri)))"

// CatalogClient layers catalog operations (pagination, batched lookup, album
// and playlist track assembly, login) on top of Client. One instance is safe
// for concurrent use by playlist refresh workers and on-demand browse and
// lookup calls.
type CatalogClient struct {
	*Client

	// cache backs every GetOne; nil disables general-path caching.
	cache       *Cache
	extraExpiry time.Duration

	userMu sync.Mutex
	userID string
}

// NewCatalogClient builds a catalog client with its own persistent cache.
func NewCatalogClient(clientID, clientSecret string, opts ...Option) *CatalogClient {
	return &CatalogClient{
		Client:      New(clientID, clientSecret, opts...),
		cache:       NewCache(),
		extraExpiry: defaultExtraExpiry,
	}
}

// NewCatalogClientFromConfig assembles a catalog client from the host
// plugin's configuration. Extra options are applied after the configured
// ones and win on conflict.
func NewCatalogClientFromConfig(cfg *config.Config, opts ...Option) (*CatalogClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configured := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTokenURL(cfg.TokenURL),
		WithTimeout(cfg.Timeout),
		WithRetries(cfg.Retries),
		WithRefreshMargin(cfg.RefreshMargin),
	}
	if len(cfg.RetryStatuses) > 0 {
		configured = append(configured, WithRetryStatuses(cfg.RetryStatuses...))
	}
	c := NewCatalogClient(cfg.ClientID, cfg.ClientSecret, append(configured, opts...)...)
	if cfg.ExtraExpiry > 0 {
		c.extraExpiry = cfg.ExtraExpiry
	}
	if !cfg.CacheEnabled {
		c.cache = nil
	}
	return c, nil
}

// Login fetches the authenticated user's profile. Success is defined by the
// profile carrying a non-empty id, which becomes the client's user id.
func (c *CatalogClient) Login(ctx context.Context) bool {
	resp := c.Get(ctx, "me", c.cache)
	id, _ := resp.Body["id"].(string)
	if id == "" {
		c.log.Error().Msg("login failed: profile carried no user id")
		return false
	}
	c.userMu.Lock()
	c.userID = id
	c.userMu.Unlock()
	c.log.Info().Str("user_id", id).Msg("logged in")
	return true
}

// LoggedIn reports whether a Login has succeeded.
func (c *CatalogClient) LoggedIn() bool {
	return c.UserID() != ""
}

// UserID returns the id resolved by Login, empty before one succeeds.
func (c *CatalogClient) UserID() string {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.userID
}

// GetOne fetches a single resource through the persistent cache and grants
// the result a small expiry grace so items fetched during a paginated sweep
// do not expire mid-sweep.
func (c *CatalogClient) GetOne(ctx context.Context, path string, opts ...RequestOption) *WebResponse {
	resp := c.Get(ctx, path, c.cache, opts...)
	resp.IncreaseExpiry(c.extraExpiry)
	return resp
}

// GetAll lazily follows the next link in each page's body until it runs out.
// The sequence is finite and non-restartable; an empty starting path yields
// nothing. Pages come back strictly in server-declared chain order.
func (c *CatalogClient) GetAll(ctx context.Context, path string, opts ...RequestOption) iter.Seq[*WebResponse] {
	return func(yield func(*WebResponse) bool) {
		for path != "" {
			resp := c.GetOne(ctx, path, opts...)
			if !yield(resp) {
				return
			}
			next, _ := resp.Body["next"].(string)
			path = next
		}
	}
}

// BatchResult pairs a requested link with the response item that resolved it.
type BatchResult struct {
	Link     *link.Link
	Response *WebResponse
}

// GetBatch looks up many same-kind links in as few requests as the per-kind
// id limit allows. Input is de-duplicated preserving first-seen order, which
// is also the output order; links the API did not answer for are dropped
// after logging. Unknown kinds yield nothing.
func (c *CatalogClient) GetBatch(ctx context.Context, kind link.Kind, links []*link.Link) []BatchResult {
	endpoint, ok := batchEndpoints[kind]
	if !ok {
		c.log.Warn().Stringer("kind", kind).Msg("kind does not support batch lookup")
		return nil
	}

	seen := make(map[string]bool, len(links))
	var unique []*link.Link
	byID := make(map[string]*link.Link, len(links))
	for _, l := range links {
		if l == nil || l.ID == "" || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		unique = append(unique, l)
		byID[l.ID] = l
	}

	chunks, err := link.Chunk(unique, batchLimits[kind])
	if err != nil {
		c.log.Error().Err(err).Stringer("kind", kind).Msg("could not chunk batch")
		return nil
	}

	matched := make(map[string]*WebResponse, len(unique))
	for _, chunk := range chunks {
		ids := make([]string, len(chunk))
		for i, l := range chunk {
			ids[i] = l.ID
		}
		resp := c.GetOne(ctx, endpoint.path,
			WithParam("ids", strings.Join(ids, ",")),
			WithParam("market", "from_token"))
		items, _ := resp.Body[endpoint.field].([]any)
		for _, raw := range items {
			item, _ := raw.(map[string]any)
			if item == nil {
				continue
			}
			l := resolveBatchItem(byID, item)
			if l == nil {
				c.log.Debug().Stringer("kind", kind).
					Msg("batch item matched no requested link, dropping")
				continue
			}
			matched[l.ID] = responseFromBatchItem(resp, item)
		}
	}

	results := make([]BatchResult, 0, len(unique))
	for _, l := range unique {
		if resp, ok := matched[l.ID]; ok {
			results = append(results, BatchResult{Link: l, Response: resp})
		}
	}
	return results
}

// resolveBatchItem maps a response item back to the link that requested it,
// directly by id or through linked_from when the API relinked the resource.
func resolveBatchItem(byID map[string]*link.Link, item map[string]any) *link.Link {
	if id, _ := item["id"].(string); id != "" {
		if l, ok := byID[id]; ok {
			return l
		}
	}
	if from, _ := item["linked_from"].(map[string]any); from != nil {
		if id, _ := from["id"].(string); id != "" {
			if l, ok := byID[id]; ok {
				return l
			}
		}
	}
	return nil
}

// GetAlbums resolves album links through GetBatch and assembles each album's
// complete track list. Output follows the caller's original link order,
// duplicates included; non-album groups are rejected with a warning.
func (c *CatalogClient) GetAlbums(ctx context.Context, links []*link.Link) []map[string]any {
	resolved := make(map[string]*WebResponse)
	for _, group := range link.GroupByKind(links) {
		if group.Kind != link.KindAlbum {
			c.log.Warn().Stringer("kind", group.Kind).
				Msg("ignoring non-album links in album lookup")
			continue
		}
		for _, res := range c.GetBatch(ctx, link.KindAlbum, group.Links) {
			resolved[res.Link.ID] = res.Response
		}
	}

	var albums []map[string]any
	for _, l := range links {
		// IDs are only unique per kind; a rejected link must not pick up a
		// resolved album that happens to share its id.
		if l == nil || l.Kind != link.KindAlbum {
			continue
		}
		resp, ok := resolved[l.ID]
		if !ok {
			continue
		}
		albums = append(albums, c.WithAllTracks(ctx, resp.Body))
	}
	return albums
}

// WithAllTracks returns a deep copy of obj with every remaining page of its
// track listing spliced in. Assembly is all-or-nothing: any page missing its
// items field discards the whole object and an empty one comes back. The
// input, often a cached body, is never mutated.
func (c *CatalogClient) WithAllTracks(ctx context.Context, obj map[string]any, opts ...RequestOption) map[string]any {
	if obj == nil {
		return map[string]any{}
	}
	tracks, _ := obj["tracks"].(map[string]any)
	next, _ := tracks["next"].(string)

	var extra []any
	if next != "" {
		for page := range c.GetAll(ctx, next, opts...) {
			items, ok := page.Body["items"].([]any)
			if !ok {
				c.log.Warn().Str("url", page.URL).
					Msg("track page missing items, discarding partial object")
				return map[string]any{}
			}
			extra = append(extra, items...)
		}
	}

	copied := deepCopy(obj)
	if next != "" {
		copiedTracks, _ := copied["tracks"].(map[string]any)
		if len(extra) > 0 {
			items, _ := copiedTracks["items"].([]any)
			copiedTracks["items"] = append(items, extra...)
		}
		// The chain was walked to its end, so the copy must not advertise a
		// next page even when the extra pages held nothing.
		delete(copiedTracks, "next")
	}
	return copied
}

// GetArtistAlbums paginates an artist's album list. With allTracks false it
// returns the raw album summaries without any per-album fetch, keeping
// lightweight browse listings free of N+1 requests; with true it fans every
// album through GetAlbums.
func (c *CatalogClient) GetArtistAlbums(ctx context.Context, artist *link.Link, allTracks bool) []map[string]any {
	if artist == nil || artist.Kind != link.KindArtist {
		c.log.Warn().Msg("artist album listing needs an artist link")
		return nil
	}

	var summaries []map[string]any
	var albumLinks []*link.Link
	for page := range c.GetAll(ctx, "artists/"+artist.ID+"/albums",
		WithParam("market", "from_token"),
		WithParam("include_groups", "album,single")) {
		items, _ := page.Body["items"].([]any)
		for _, raw := range items {
			item, _ := raw.(map[string]any)
			if item == nil {
				continue
			}
			if !allTracks {
				summaries = append(summaries, item)
				continue
			}
			uri, _ := item["uri"].(string)
			l, err := link.Parse(uri)
			if err != nil {
				c.log.Debug().Err(err).Str("uri", uri).
					Msg("skipping album with unparseable uri")
				continue
			}
			albumLinks = append(albumLinks, l)
		}
	}

	if !allTracks {
		return summaries
	}
	return c.GetAlbums(ctx, albumLinks)
}

// GetArtistTopTracks fetches an artist's top track list.
func (c *CatalogClient) GetArtistTopTracks(ctx context.Context, artist *link.Link) []map[string]any {
	if artist == nil || artist.Kind != link.KindArtist {
		c.log.Warn().Msg("top tracks listing needs an artist link")
		return nil
	}
	resp := c.GetOne(ctx, "artists/"+artist.ID+"/top-tracks",
		WithParam("market", "from_token"))
	items, _ := resp.Body["tracks"].([]any)
	tracks := make([]map[string]any, 0, len(items))
	for _, raw := range items {
		if item, _ := raw.(map[string]any); item != nil {
			tracks = append(tracks, item)
		}
	}
	return tracks
}

// GetTrack fetches one track by URI. Anything that does not parse as a track
// link degrades to an empty response.
func (c *CatalogClient) GetTrack(ctx context.Context, uri string) *WebResponse {
	l, err := link.Parse(uri)
	if err != nil || l.Kind != link.KindTrack {
		c.log.Error().Str("uri", uri).Msg("could not parse track uri")
		return newEmptyResponse(uri)
	}
	return c.GetOne(ctx, "tracks/"+l.ID, WithParam("market", "from_token"))
}

// GetPlaylist fetches a playlist with its complete track list. URIs that do
// not parse as playlist links yield nil after logging. Legacy starred
// playlists (owner, no id) resolve through the per-user starred endpoint.
func (c *CatalogClient) GetPlaylist(ctx context.Context, uri string) map[string]any {
	l, err := link.Parse(uri)
	if err != nil || l.Kind != link.KindPlaylist {
		c.log.Error().Str("uri", uri).Msg("could not parse playlist uri")
		return nil
	}

	path := "playlists/" + l.ID
	if l.ID == "" {
		if l.Owner == "" {
			c.log.Error().Str("uri", uri).Msg("playlist uri carries neither id nor owner")
			return nil
		}
		path = "users/" + l.Owner + "/starred"
	}

	resp := c.GetOne(ctx, path,
		WithParam("fields", playlistFields),
		WithParam("market", "from_token"))
	if resp.Body == nil {
		return nil
	}
	return c.WithAllTracks(ctx, resp.Body)
}

// deepCopy clones a decoded JSON object through a marshal round-trip.
func deepCopy(obj map[string]any) map[string]any {
	raw, err := json.Marshal(obj)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
