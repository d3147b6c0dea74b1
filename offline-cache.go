// Package retropricer implements the offline caching agent in front of
// the retro game price checker. The agent snapshots the app shell into
// a versioned cache generation at install time and serves it
// cache-first, while data requests always go to the network, falling
// back to a synthesized offline response when the origin is
// unreachable.
package retropricer

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Jondude1/retro-pricer/cache"
	snapshot "github.com/Jondude1/retro-pricer/pkg/response-snapshot"
)

// DefaultVersion is the generation label used when none is configured.
// Bump the label to invalidate the shell of a running deployment.
const DefaultVersion = "retro-pricer-v1"

var (
	// DefaultShell lists the paths snapshotted at install time.
	DefaultShell = []string{"/", "/static/manifest.json"}
	// DefaultDynamicPrefixes lists the path prefixes that are always
	// fetched from the network.
	DefaultDynamicPrefixes = []string{"/search", "/prices", "/deal", "/scan"}
)

type Config struct {
	// Store holds the cache generations. Defaults to an in-memory
	// store, which is mainly useful for testing.
	Store cache.Store
	// OriginURL is the address of the origin server to front. Leave
	// unset when wrapping an in-process handler with Middleware.
	OriginURL *url.URL
	// Upstream is the in-process origin handler. Usually set via
	// Middleware.
	Upstream http.Handler
	// Version is the label of the cache generation this deployment
	// installs.
	Version string
	// Shell lists the request paths snapshotted at install time.
	Shell []string
	// DynamicPrefixes lists the path prefixes that are always fetched
	// from the network.
	DynamicPrefixes []string
	// Logger is the logger to use. The global zerolog logger is used
	// if nil.
	Logger *zerolog.Logger
}

// OfflineCache serves the snapshotted app shell from a versioned cache
// generation and forwards data requests to the origin.
type OfflineCache struct {
	store           cache.Store
	originURL       *url.URL
	upstream        http.Handler
	version         string
	shell           []string
	dynamicPrefixes []string
	client          *http.Client
	log             zerolog.Logger
	metrics         *metrics

	mu    sync.RWMutex
	state State
	gen   cache.Generation
}

// CreateCache creates a new OfflineCache instance based on the config.
// The agent serves nothing from cache until Install has succeeded.
func CreateCache(config Config) *OfflineCache {
	if config.Store == nil {
		config.Store = cache.NewMemStore()
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if len(config.Shell) == 0 {
		config.Shell = DefaultShell
	}
	if len(config.DynamicPrefixes) == 0 {
		config.DynamicPrefixes = DefaultDynamicPrefixes
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &OfflineCache{
		store:           config.Store,
		originURL:       config.OriginURL,
		upstream:        config.Upstream,
		version:         config.Version,
		shell:           config.Shell,
		dynamicPrefixes: config.DynamicPrefixes,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:     logger.With().Str("version", config.Version).Logger(),
		metrics: newMetrics(),
		state:   StateUninstalled,
	}
}

// Middleware wraps the given handler as the origin for all network
// requests and returns the agent as the outer handler.
func (c *OfflineCache) Middleware(next http.Handler) http.Handler {
	c.upstream = next
	return c
}

func (c *OfflineCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.isDynamic(r.URL.Path) {
		c.serveNetworkFirst(w, r)
		return
	}
	c.serveCacheFirst(w, r)
}

// isDynamic reports whether the path matches a configured prefix and
// thus always goes to the network.
func (c *OfflineCache) isDynamic(path string) bool {
	for _, prefix := range c.dynamicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// serveNetworkFirst forwards the request to the origin, passing the
// response through untouched. If the origin cannot be reached, a
// synthesized offline response is served instead.
func (c *OfflineCache) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	c.metrics.networkForwards.Inc()
	if c.upstream != nil {
		c.upstream.ServeHTTP(w, r)
		return
	}
	res, err := c.fetchOrigin(r)
	if err != nil {
		getLogger(r).Debug().Err(err).Str("uri", r.URL.RequestURI()).Msg("Origin unreachable, serving offline response")
		c.metrics.offlineFallbacks.Inc()
		serveOffline(w)
		return
	}
	c.send(w, r, res)
}

// serveOffline writes the response served to data requests while
// offline. Clients detect the condition by the error field, so the
// status is a plain 200.
func serveOffline(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"error":"offline"}`))
}

// serveCacheFirst serves the request from the installed generation if
// possible, and forwards it to the origin otherwise. Misses never
// populate the cache.
func (c *OfflineCache) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	cs := CacheStatus{}
	if r.Method != http.MethodGet {
		cs.Forward(CacheStatusFwdMethod)
		c.forward(w, r, cs)
		return
	}
	key := cacheKey(r)
	if gen := c.generation(); gen != nil {
		snap, ok, err := gen.Get(key)
		if err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		} else if ok {
			c.metrics.shellHits.Inc()
			cs.Hit()
			c.sendSnapshot(w, r, snap, cs)
			return
		}
	}
	c.metrics.shellMisses.Inc()
	cs.Forward(CacheStatusFwdUriMiss)
	c.forward(w, r, cs)
}

// forward passes a shell request on to the origin. An unreachable
// origin is an ordinary failure here, not an offline condition.
func (c *OfflineCache) forward(w http.ResponseWriter, r *http.Request, cs CacheStatus) {
	w.Header().Add("Cache-Status", cs.String())
	if c.upstream != nil {
		c.upstream.ServeHTTP(w, r)
		return
	}
	res, err := c.fetchOrigin(r)
	if err != nil {
		getLogger(r).Error().Err(err).Str("uri", r.URL.RequestURI()).Msg("Could not reach origin")
		http.Error(w, "Could not reach origin", http.StatusBadGateway)
		return
	}
	c.send(w, r, res)
}

// sendSnapshot writes a stored response to the client.
func (c *OfflineCache) sendSnapshot(w http.ResponseWriter, r *http.Request, snap cache.Snapshot, cs CacheStatus) {
	res, err := snapshot.BytesToResponse(snap.Bytes)
	if err != nil {
		c.log.Error().Err(err).Str("key", snap.Key).Msg("Could not parse stored response")
		http.Error(w, "Could not parse stored response", http.StatusInternalServerError)
		return
	}
	defer res.Body.Close()
	copyHeadersTo(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		getLogger(r).Error().Err(err).Msg("Could not write response to client")
		return
	}
	getLogger(r).Debug().Str("uri", r.URL.RequestURI()).Str("status", cs.String()).Msg("Sending stored response to client")
}

// send pipes a fetched origin response to the client.
func (c *OfflineCache) send(w http.ResponseWriter, r *http.Request, res *http.Response) {
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		getLogger(r).Error().Err(err).Msg("Could not write response to client")
	}
}

// fetch gets the response for the given request, either from the
// in-process upstream handler or from the origin server.
func (c *OfflineCache) fetch(r *http.Request) (*http.Response, error) {
	if c.upstream != nil {
		rec := snapshot.NewRecorder(nil)
		c.upstream.ServeHTTP(rec, r)
		return rec.Result()
	}
	return c.fetchOrigin(r)
}

// fetchOrigin downloads the response for the given request from the
// origin server.
func (c *OfflineCache) fetchOrigin(r *http.Request) (*http.Response, error) {
	uri := c.originURL.String() + r.URL.RequestURI()
	// if the original request has no body, the new request body needs
	// to be nil (see https://github.com/golang/go/issues/16036)
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	// do not pass connection control to the origin
	req.Header.Del("Connection")
	req.Host = c.originURL.Host
	return c.client.Do(req)
}

// cacheKey returns the storage key for the request: the request URI,
// i.e. the path including the query string.
func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// copyHeader copies the header values from src to dst, adding to
// existing values. X-Forwarded-* headers are dropped.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if name == "X-Forwarded-For" || name == "X-Forwarded-Proto" || name == "X-Forwarded-Host" {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

// copyHeadersTo copies the header values from src to dst, replacing
// existing values.
func copyHeadersTo(dst, src http.Header) {
	for name, values := range src {
		for _, value := range values {
			dst.Set(name, value)
		}
	}
}

// getLogger returns the appropriate logger for the request
func getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	return logger
}
