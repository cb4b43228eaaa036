package webapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Freshness overrides how a cached response's expiry is judged.
type Freshness int

const (
	// FreshnessDefault judges validity by the entry's expiry time.
	FreshnessDefault Freshness = iota
	// ForceFresh treats any cached entry as valid regardless of expiry.
	ForceFresh
	// ForceExpired treats any cached entry as stale regardless of expiry.
	ForceExpired
)

var (
	maxAgeRe = regexp.MustCompile(`(?i)max-age=(\d+)`)
	// etagRe accepts a double-quoted token of visible ASCII (no inner
	// quotes). A weak-validator prefix is tolerated but not stored: only
	// the quoted part survives.
	etagRe = regexp.MustCompile(`^(?:W/)?("[!#-~]*")$`)
)

// WebResponse wraps one decoded JSON API response with the cache metadata
// needed to serve and revalidate it later.
type WebResponse struct {
	URL        string
	Body       map[string]any // nil for empty, malformed or degraded bodies
	ExpiresAt  time.Time
	ETag       string // quoted validator, empty when absent
	StatusCode int

	// fromCache records the verdict of the last StillValid call. Reads and
	// writes may race between callers; catalog data is eventually consistent
	// and the relaxation is accepted.
	fromCache bool

	log zerolog.Logger
}

// responseFrom builds a WebResponse from one HTTP exchange.
func responseFrom(log zerolog.Logger, url string, status int, header http.Header, body []byte, now time.Time) *WebResponse {
	return &WebResponse{
		URL:        url,
		Body:       decodeBody(log, url, body),
		ExpiresAt:  now.Add(maxAge(header.Get("Cache-Control"))),
		ETag:       parseETag(header.Get("ETag")),
		StatusCode: status,
		log:        log,
	}
}

// responseFromBatchItem synthesizes a per-item response from one entry of a
// batch lookup. Expiry and status come from the batch; items carry no ETag.
func responseFromBatchItem(batch *WebResponse, item map[string]any) *WebResponse {
	return &WebResponse{
		URL:        batch.URL,
		Body:       item,
		ExpiresAt:  batch.ExpiresAt,
		StatusCode: batch.StatusCode,
		log:        batch.log,
	}
}

// newEmptyResponse is what every degraded code path hands back: no body, no
// freshness, never StatusOK.
func newEmptyResponse(url string) *WebResponse {
	return &WebResponse{URL: url}
}

// decodeBody treats an empty body as null and a malformed one as null with a
// warning. Neither is an error: callers see an absent body either way.
func decodeBody(log zerolog.Logger, url string, body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("malformed JSON body, treating as empty")
		return nil
	}
	return out
}

// maxAge extracts the max-age directive from a Cache-Control header. An
// absent or unparseable header behaves like max-age=0.
func maxAge(cacheControl string) time.Duration {
	m := maxAgeRe.FindStringSubmatch(cacheControl)
	if m == nil {
		return 0
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseETag(raw string) string {
	m := etagRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// StatusOK reports whether the exchange succeeded (2xx or 3xx).
func (r *WebResponse) StatusOK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// StillValid reports whether the entry may be served without revalidation.
// The verdict is remembered for StatusUnchanged.
func (r *WebResponse) StillValid(now time.Time, override Freshness) bool {
	var valid bool
	switch override {
	case ForceFresh:
		valid = true
	case ForceExpired:
		valid = false
	default:
		valid = !r.ExpiresAt.Before(now)
	}
	r.fromCache = valid
	return valid
}

// StatusUnchanged reports whether the body is known current: the last
// freshness check served it from cache, or the upstream answered 304.
func (r *WebResponse) StatusUnchanged() bool {
	return r.fromCache || r.StatusCode == http.StatusNotModified
}

// ETagHeaders returns the conditional-request headers for revalidating this
// entry, empty when it carries no validator.
func (r *WebResponse) ETagHeaders() map[string]string {
	if r.ETag == "" {
		return nil
	}
	return map[string]string{"If-None-Match": r.ETag}
}

// Absorb folds a 304 revalidation into this cached entry, renewing its
// freshness window and validator while keeping the original body. It reports
// false when the revalidation does not apply.
func (r *WebResponse) Absorb(other *WebResponse) bool {
	if other == nil || r.ETag == "" {
		return false
	}
	if r.URL != other.URL {
		// A same-key different-URL revalidation indicates a caller bug.
		r.log.Error().Str("cached", r.URL).Str("received", other.URL).
			Msg("ETag revalidation URL mismatch")
		return false
	}
	if !other.StatusOK() || other.StatusCode != http.StatusNotModified {
		return false
	}
	r.ExpiresAt = other.ExpiresAt
	r.ETag = other.ETag
	r.StatusCode = other.StatusCode
	return true
}

// IncreaseExpiry grants a freshly fetched response extra cache lifetime so a
// paginated sweep does not watch its own pages expire mid-walk. Entries
// served from cache and failed exchanges are left alone.
func (r *WebResponse) IncreaseExpiry(d time.Duration) {
	if !r.StatusOK() || r.fromCache {
		return
	}
	r.ExpiresAt = r.ExpiresAt.Add(d)
}
