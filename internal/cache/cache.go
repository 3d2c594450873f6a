package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

const installConcurrency = 8

// Config describes one cache generation and its fill policy.
type Config struct {
	Version          string
	Origin           string
	HomePage         string
	StaticManifest   []string
	RuntimeAllowList []string
	MaxEntryBytes    int64 // zero or less disables the limit
}

// ConfigFrom builds a cache [Config] from the application config.
func ConfigFrom(c *shared.Config) Config {
	return Config{
		Version:          c.Cache.Version,
		Origin:           c.Server.Origin,
		HomePage:         c.Cache.HomePage,
		StaticManifest:   c.Cache.StaticManifest,
		RuntimeAllowList: c.Cache.RuntimeAllowList,
		MaxEntryBytes:    c.Cache.MaxEntryBytes,
	}
}

// Manager is a cache-first [http.RoundTripper] over a versioned [Storage].
type Manager struct {
	config    Config
	origin    *url.URL
	store     Storage
	transport http.RoundTripper
	logger    *log.Logger
	now       func() time.Time
}

// NewManager validates config and returns a [Manager] that falls through to transport on a miss.
//
// A nil transport uses [http.DefaultTransport].
func NewManager(config Config, store Storage, transport http.RoundTripper, logger *log.Logger) (*Manager, error) {
	if config.Version == "" {
		return nil, fmt.Errorf("%w: cache version is required", shared.ErrInvalidConfig)
	}

	origin, err := url.Parse(config.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("%w: origin %q must be an absolute URL", shared.ErrInvalidConfig, config.Origin)
	}

	if config.HomePage == "" {
		config.HomePage = "/index.html"
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &Manager{
		config:    config,
		origin:    origin,
		store:     store,
		transport: transport,
		logger:    logger.With("component", "cache", "version", config.Version),
		now:       time.Now,
	}, nil
}

// Version returns the current generation name.
func (m *Manager) Version() string { return m.config.Version }

// Install fetches every manifest path through the network transport and stores the results as the
// current generation in one write.
//
// If any fetch fails or answers with a non-2xx status nothing is written, so an earlier generation
// keeps serving.
func (m *Manager) Install(ctx context.Context) error {
	entries := make([]*models.CachedEntry, len(m.config.StaticManifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)

	for i, p := range m.config.StaticManifest {
		g.Go(func() error {
			entry, err := m.precache(gctx, p)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Error("install aborted", "err", err)
		return err
	}

	if err := m.store.PutAll(ctx, m.config.Version, entries); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInstallFailed, err)
	}

	m.logger.Info("installed", "entries", len(entries))
	return nil
}

func (m *Manager) precache(ctx context.Context, p string) (*models.CachedEntry, error) {
	target, err := m.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInstallFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request for %s: %w", shared.ErrInstallFailed, p, err)
	}

	resp, err := m.transport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrInstallFailed, p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", shared.ErrInstallFailed, p, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", shared.ErrInstallFailed, p, err)
	}

	return models.NewCachedEntry(target, resp.StatusCode, resp.Header, body, m.now()), nil
}

// Activate deletes every generation except the current one and returns the names it removed.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache generations: %w", err)
	}

	var removed []string
	for _, name := range keys {
		if name == m.config.Version {
			continue
		}
		if _, err := m.store.Delete(ctx, name); err != nil {
			return removed, fmt.Errorf("failed to delete cache generation %s: %w", name, err)
		}
		m.logger.Info("deleted stale generation", "name", name)
		removed = append(removed, name)
	}
	return removed, nil
}

// Installed reports whether the current generation exists in storage.
func (m *Manager) Installed(ctx context.Context) (bool, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range keys {
		if name == m.config.Version {
			return true, nil
		}
	}
	return false, nil
}

// Generations summarizes stored generations.
func (m *Manager) Generations(ctx context.Context) ([]models.CacheGeneration, error) {
	return m.store.Generations(ctx)
}

// RoundTrip implements [http.RoundTripper]. See [Manager.Fetch].
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fetch(req)
}

// Fetch answers req cache-first.
//
// Non-GET and cross-origin requests go straight to the network. A stored exact-URL match is returned
// without revalidation. On a miss, allow-listed same-origin 200 responses are stored once the caller has
// read the body to EOF and closed it. When the network fails for a navigation request the cached home
// page is served instead.
func (m *Manager) Fetch(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !m.sameOrigin(req.URL) {
		return m.transport.RoundTrip(req)
	}

	ctx := req.Context()
	key := cacheKey(req.URL)

	entry, err := m.store.Match(ctx, m.config.Version, key)
	if err == nil {
		m.logger.Debug("cache hit", "url", key)
		return entry.Response(req), nil
	}
	if !errors.Is(err, shared.ErrCacheMiss) {
		m.logger.Warn("cache lookup failed", "url", key, "err", err)
	}

	resp, err := m.transport.RoundTrip(req)
	if err != nil {
		return m.offline(req, err)
	}

	if m.cacheable(req, resp) {
		resp.Body = m.tee(ctx, key, resp)
	}
	return resp, nil
}

// offline serves the home page for failed navigations and passes every other failure through.
func (m *Manager) offline(req *http.Request, cause error) (*http.Response, error) {
	if !IsNavigation(req) {
		return nil, cause
	}

	home, err := m.resolve(m.config.HomePage)
	if err != nil {
		return nil, cause
	}

	entry, err := m.store.Match(req.Context(), m.config.Version, home)
	if err != nil {
		m.logger.Warn("offline and home page not cached", "url", req.URL.String(), "err", cause)
		return nil, cause
	}

	m.logger.Info("offline, serving home page", "url", req.URL.String(), "err", cause)
	return entry.Response(req), nil
}

func (m *Manager) cacheable(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if !m.sameOrigin(final) {
		return false
	}

	if limit := m.config.MaxEntryBytes; limit > 0 && resp.ContentLength > limit {
		return false
	}

	return m.allowListed(req.URL.String())
}

func (m *Manager) allowListed(u string) bool {
	for _, fragment := range m.config.RuntimeAllowList {
		if fragment != "" && strings.Contains(u, fragment) {
			return true
		}
	}
	return false
}

func (m *Manager) tee(ctx context.Context, key string, resp *http.Response) io.ReadCloser {
	header := resp.Header.Clone()
	status := resp.StatusCode
	// the write happens on Close, after the request context may already be done
	storeCtx := context.WithoutCancel(ctx)

	return newTeeBody(resp.Body, m.config.MaxEntryBytes, func(body []byte) {
		entry := models.NewCachedEntry(key, status, header, body, m.now())
		if err := m.store.Put(storeCtx, m.config.Version, entry); err != nil {
			m.logger.Warn("failed to cache runtime asset", "url", key, "err", err)
			return
		}
		m.logger.Debug("cached runtime asset", "url", key, "bytes", len(body))
	})
}

func (m *Manager) resolve(p string) (string, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("invalid manifest path %q: %w", p, err)
	}
	return cacheKey(m.origin.ResolveReference(ref)), nil
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Scheme, m.origin.Scheme) && strings.EqualFold(u.Host, m.origin.Host)
}

// cacheKey is the full URL without its fragment. Query strings are part of the key.
func cacheKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

// IsNavigation reports whether req loads a top-level document.
//
// Fetch metadata headers decide when present; otherwise an Accept header naming text/html does.
func IsNavigation(req *http.Request) bool {
	mode := req.Header.Get("Sec-Fetch-Mode")
	dest := req.Header.Get("Sec-Fetch-Dest")
	if mode == "navigate" || dest == "document" {
		return true
	}
	if mode != "" || dest != "" {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
