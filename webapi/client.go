// Package webapi is a caching, authenticating HTTP client for the catalog
// Web API. It manages a client-credentials OAuth token, retries transient
// failures with backoff, and keeps a freshness/ETag-aware response cache.
//
// Public fetch methods never return errors: remote and transport failures
// degrade to empty responses after logging, so a host plugin keeps browsing
// the rest of the catalog even when the API is unreachable or credentials
// have gone stale.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultBaseURL is the catalog API root.
	DefaultBaseURL = "https://api.example.com/v1"
	// DefaultTokenURL is the OAuth token endpoint.
	DefaultTokenURL = "https://auth.example.com/token"

	defaultRetries       = 5
	defaultTimeout       = 10 * time.Second
	defaultBackoffFactor = 500 * time.Millisecond
	defaultRefreshMargin = time.Minute
)

func defaultRetryStatuses() map[int]bool {
	return map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
	}
}

// Client is the generic transport: token lifecycle, retry engine and cache
// integration. CatalogClient layers the catalog-specific operations on top.
type Client struct {
	httpc   *http.Client
	baseURL *url.URL
	log     zerolog.Logger

	// auth is nil in anonymous mode, which never refreshes and never sends
	// an Authorization header.
	auth *clientcredentials.Config

	// refreshMu guards all token state below it. Every read of tokenExpires
	// that decides whether to refresh, and every write of new token state,
	// happens under this mutex.
	refreshMu    sync.Mutex
	accessToken  string
	authHeader   string
	tokenExpires time.Time

	// authFailed latches permanently once any request observes a 401. All
	// further Gets short-circuit to empty responses without network calls.
	authFailed atomic.Bool

	// cacheMu serializes the absorb-then-store read-modify-write on a cache
	// entry so two concurrent identical requests cannot overwrite each
	// other's revalidated entry. Plain cache reads stay outside it.
	cacheMu sync.Mutex

	retries       int
	timeout       time.Duration
	backoffFactor time.Duration
	refreshMargin time.Duration
	retryStatuses map[int]bool

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

// WithTokenURL points the token refresh at a different endpoint.
func WithTokenURL(raw string) Option {
	return func(c *Client) {
		if c.auth != nil {
			c.auth.TokenURL = raw
		}
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRetries caps the number of network attempts per Get.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithTimeout bounds the wall-clock budget of one Get across all retries.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoffFactor scales the exponential backoff between retries.
func WithBackoffFactor(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoffFactor = d
		}
	}
}

// WithRetryStatuses replaces the set of status codes that trigger a retry.
func WithRetryStatuses(codes ...int) Option {
	return func(c *Client) {
		c.retryStatuses = make(map[int]bool, len(codes))
		for _, code := range codes {
			c.retryStatuses[code] = true
		}
	}
}

// WithRefreshMargin refreshes the token this long before it expires.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshMargin = d
		}
	}
}

// New builds a Client. Empty credentials select anonymous mode. Options are
// applied in order after defaults.
func New(clientID, clientSecret string, opts ...Option) *Client {
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		httpc:         &http.Client{Timeout: defaultTimeout},
		baseURL:       base,
		log:           zerolog.Nop(),
		retries:       defaultRetries,
		timeout:       defaultTimeout,
		backoffFactor: defaultBackoffFactor,
		refreshMargin: defaultRefreshMargin,
		retryStatuses: defaultRetryStatuses(),
		now:           time.Now,
		sleep:         time.Sleep,
	}
	if clientID != "" && clientSecret != "" {
		c.auth = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     DefaultTokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizationFailed reports whether the 401 latch has tripped. Recovery
// requires constructing a new client with fresh credentials.
func (c *Client) AuthorizationFailed() bool {
	return c.authFailed.Load()
}

// requestOptions collects the per-call knobs of Get.
type requestOptions struct {
	params    url.Values
	headers   http.Header
	freshness Freshness
}

// RequestOption configures one Get call.
type RequestOption func(*requestOptions)

// WithParam adds a query parameter to the request. A repeated key keeps the
// last value.
func WithParam(key, value string) RequestOption {
	return func(ro *requestOptions) {
		if ro.params == nil {
			ro.params = url.Values{}
		}
		ro.params.Set(key, value)
	}
}

// WithParams merges a set of query parameters into the request.
func WithParams(params url.Values) RequestOption {
	return func(ro *requestOptions) {
		if ro.params == nil {
			ro.params = url.Values{}
		}
		for k, vs := range params {
			for _, v := range vs {
				ro.params.Add(k, v)
			}
		}
	}
}

// WithHeader adds a request header. Client-owned headers such as
// Authorization always win over caller-supplied ones.
func WithHeader(key, value string) RequestOption {
	return func(ro *requestOptions) {
		if ro.headers == nil {
			ro.headers = http.Header{}
		}
		ro.headers.Set(key, value)
	}
}

// WithFreshness overrides how cached entries are judged for this call.
func WithFreshness(f Freshness) RequestOption {
	return func(ro *requestOptions) { ro.freshness = f }
}

// Get fetches path (relative to the base URL, or absolute) and returns the
// decoded response. When cache is non-nil it is consulted first and updated
// afterwards; a stale entry with a validator turns the fetch into a
// conditional request whose 304 renews the cached body.
//
// Get never returns an error. Token trouble, transport failures, exhausted
// retries and error-bearing bodies all degrade to an empty response.
func (c *Client) Get(ctx context.Context, path string, cache *Cache, opts ...RequestOption) *WebResponse {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if c.AuthorizationFailed() {
		c.log.Debug().Str("path", path).Msg("authorization failed earlier, not sending request")
		return newEmptyResponse(path)
	}

	key := normalizeKey(path, ro.params)

	headers := http.Header{}
	for k, vs := range ro.headers {
		headers[k] = vs
	}

	var prev *WebResponse
	if cache != nil {
		if entry, ok := cache.Get(key); ok {
			if entry.StillValid(c.now(), ro.freshness) {
				c.log.Debug().Str("key", key).Msg("serving from cache")
				return entry
			}
			prev = entry
			for k, v := range entry.ETagHeaders() {
				headers.Set(k, v)
			}
		}
	}

	if err := c.refreshTokenIfNeeded(ctx); err != nil {
		c.log.Error().Err(err).Msg("token refresh failed")
		return newEmptyResponse(path)
	}
	if h := c.authorizationHeader(); h != "" {
		headers.Set("Authorization", h)
	}

	reqURL, err := c.prepareURL(path, ro.params)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("could not build request URL")
		return newEmptyResponse(path)
	}

	result := c.requestWithRetries(ctx, reqURL, headers)

	if cache != nil && result != nil {
		c.cacheMu.Lock()
		if prev != nil && prev.Absorb(result) {
			result = prev
		}
		if result.StatusOK() {
			cache.Put(key, result)
		}
		c.cacheMu.Unlock()
	}

	if result == nil {
		return newEmptyResponse(reqURL)
	}
	if _, ok := result.Body["error"]; ok {
		c.log.Debug().Str("url", reqURL).Msg("response body carried an error field")
		return newEmptyResponse(reqURL)
	}
	return result
}

// normalizeKey merges the path's own query string with extra params, keeps a
// single value per key (last wins) and serializes with sorted keys, so any
// permutation of the same parameters lands on the same cache entry.
func normalizeKey(path string, params url.Values) string {
	base, query, _ := strings.Cut(path, "?")
	merged := url.Values{}
	if existing, err := url.ParseQuery(query); err == nil {
		collapseInto(merged, existing)
	}
	collapseInto(merged, params)
	if len(merged) == 0 {
		return base
	}
	return base + "?" + merged.Encode()
}

// collapseInto merges src into dst keeping a single value per key, the last
// one winning. Duplicate keys across base URL, path and params collapse the
// same way; callers depend on the override semantics.
func collapseInto(dst, src url.Values) {
	for k, vs := range src {
		if len(vs) > 0 {
			dst.Set(k, vs[len(vs)-1])
		}
	}
}

// prepareURL resolves path against the base URL. An absolute path is used
// verbatim apart from extra params; a relative one is path-joined, with query
// parameters merged from base, path and params in that precedence order.
func (c *Client) prepareURL(path string, params url.Values) (string, error) {
	parsed, err := url.Parse(path)
	if err != nil {
		return "", err
	}

	var u url.URL
	merged := url.Values{}
	if parsed.IsAbs() {
		u = *parsed
		collapseInto(merged, parsed.Query())
	} else {
		u.Scheme = c.baseURL.Scheme
		u.Host = c.baseURL.Host
		u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(parsed.Path, "/")
		collapseInto(merged, c.baseURL.Query())
		collapseInto(merged, parsed.Query())
	}
	collapseInto(merged, params)
	u.RawQuery = merged.Encode()
	return u.String(), nil
}

// refreshTokenIfNeeded obtains a fresh access token when the current one is
// missing or inside the refresh margin of its expiry. Anonymous mode never
// needs a refresh.
func (c *Client) refreshTokenIfNeeded(ctx context.Context) error {
	if c.auth == nil {
		return nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpires.Add(-c.refreshMargin)) {
		return nil
	}

	c.log.Debug().Msg("refreshing access token")
	// Route the token exchange through our HTTP client so tests and custom
	// transports apply to it too.
	tok, err := c.auth.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpc))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			rerr.Response.StatusCode == http.StatusUnauthorized {
			c.latchAuthFailure()
		}
		return fmt.Errorf("could not obtain access token: %w", err)
	}
	if !strings.EqualFold(tok.TokenType, "Bearer") {
		return fmt.Errorf("unexpected token type %q", tok.TokenType)
	}

	c.accessToken = tok.AccessToken
	c.authHeader = "Bearer " + tok.AccessToken
	c.tokenExpires = tok.Expiry
	if tok.Expiry.IsZero() {
		// No expires_in from the server; refresh again in an hour.
		c.tokenExpires = c.now().Add(time.Hour)
	}
	return nil
}

func (c *Client) authorizationHeader() string {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.authHeader
}

// requestWithRetries sends the request up to c.retries times inside a
// c.timeout wall-clock budget. Transient statuses retry after a backoff
// taken from Retry-After when present, exponential otherwise; transport
// errors retry immediately with no status. The loop stops on the first
// status outside the retry set. A final 401 trips the authorization latch.
func (c *Client) requestWithRetries(ctx context.Context, reqURL string, headers http.Header) *WebResponse {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.log.Error().Err(err).Str("url", reqURL).Msg("could not build request")
		return nil
	}
	req.Header = headers

	reqID := uuid.NewString()
	deadline := c.now().Add(c.timeout)

	var result *WebResponse
	status := 0
	backoff := time.Duration(0)

	for attempt := 0; attempt < c.retries; attempt++ {
		if remaining := deadline.Sub(c.now()); backoff > remaining {
			c.log.Debug().Str("request_id", reqID).Dur("backoff", backoff).
				Dur("remaining", remaining).Msg("retry budget exhausted, giving up")
			break
		}
		if backoff > 0 {
			c.log.Debug().Str("request_id", reqID).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("waiting before retry")
			c.sleep(backoff)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			c.log.Debug().Str("request_id", reqID).Int("attempt", attempt).
				Err(err).Msg("request failed")
			status, backoff, result = 0, 0, nil
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.log.Debug().Str("request_id", reqID).Int("attempt", attempt).
				Err(readErr).Msg("reading response failed")
			status, backoff, result = 0, 0, nil
			continue
		}

		status = resp.StatusCode
		result = responseFrom(c.log, reqURL, status, resp.Header, body, c.now())
		if !c.retryStatuses[status] {
			break
		}
		backoff = c.nextBackoff(resp.Header.Get("Retry-After"), attempt)
		c.log.Debug().Str("request_id", reqID).Int("attempt", attempt).
			Int("status", status).Dur("backoff", backoff).Msg("retryable status")
	}

	if status == http.StatusUnauthorized {
		c.latchAuthFailure()
	}
	return result
}

// nextBackoff honors Retry-After (integer seconds or an HTTP-date, clamped
// to zero) and falls back to exponential backoff.
func (c *Client) nextBackoff(retryAfter string, attempt int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(max(secs, 0)) * time.Second
		}
		if when, err := http.ParseTime(retryAfter); err == nil {
			return max(when.Sub(c.now()), 0)
		}
	}
	return time.Duration(1<<uint(attempt)) * c.backoffFactor
}

func (c *Client) latchAuthFailure() {
	if c.authFailed.Swap(true) {
		return
	}
	c.log.Error().Msg("authorization failed; check the configured client_id and " +
		"client_secret, then restart to try again")
}
