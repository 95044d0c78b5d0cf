// Package offline is a caching reverse proxy that applies service-worker
// style strategies (cache-first, network-first, pass-through) to the
// requests of the FitFusion web app.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitfusion/fitfusion/internal/logger"
)

// Phase is the controller lifecycle state.
type Phase int

const (
	PhaseParsed Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActivated
)

func (p Phase) String() string {
	switch p {
	case PhaseParsed:
		return "parsed"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseActivating:
		return "activating"
	case PhaseActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// Source tells where a response came from.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// SourceHeader is set on every response the controller serves.
const SourceHeader = "X-Offline-Source"

// Response is what the controller hands back for a request.
type Response struct {
	Entry
	Source Source
}

// Fetcher performs upstream requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Controller.
type Options struct {
	Origin       string
	CachePrefix  string
	CacheVersion string
	APIPrefix    string
	BackendHosts []string
	Placeholder  string
	Precache     []string
}

// Controller intercepts requests once activated and answers each one from
// the cache or the network according to its Strategy. Handle never fails:
// every network error turns into a cached or synthetic response.
type Controller struct {
	origin     *url.URL
	opts       Options
	classifier Classifier
	caches     *CacheStorage
	fetcher    Fetcher
	notifier   Notifier
	queue      WorkoutQueue
	log        *slog.Logger

	mu    sync.RWMutex
	phase Phase
}

// ControllerOption configures optional collaborators.
type ControllerOption func(*Controller)

// WithCacheStorage shares a cache storage, e.g. one holding caches from a
// previous version.
func WithCacheStorage(s *CacheStorage) ControllerOption {
	return func(c *Controller) { c.caches = s }
}

// WithNotifier sets where push notifications are shown.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

// WithQueue sets the pending workout queue drained by Sync.
func WithQueue(q WorkoutQueue) ControllerOption {
	return func(c *Controller) { c.queue = q }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// NewController creates a controller in the parsed phase
func NewController(opts Options, fetcher Fetcher, options ...ControllerOption) (*Controller, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin: %w", err)
	}
	if !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL: %q", opts.Origin)
	}
	if opts.CacheVersion == "" {
		return nil, fmt.Errorf("cache version is required")
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = "fitfusion"
	}
	if fetcher == nil {
		fetcher = http.DefaultClient
	}

	c := &Controller{
		origin: origin,
		opts:   opts,
		classifier: Classifier{
			APIPrefix:    opts.APIPrefix,
			BackendHosts: opts.BackendHosts,
		},
		caches:   NewCacheStorage(),
		fetcher:  fetcher,
		notifier: LogNotifier{},
		log:      logger.L().With("component", "offline"),
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// StaticCacheName is the cache populated at install time
func (c *Controller) StaticCacheName() string {
	return c.opts.CachePrefix + "-static-" + c.opts.CacheVersion
}

// DynamicCacheName is the cache populated at request time
func (c *Controller) DynamicCacheName() string {
	return c.opts.CachePrefix + "-dynamic-" + c.opts.CacheVersion
}

// Caches exposes the cache storage
func (c *Controller) Caches() *CacheStorage {
	return c.caches
}

// Phase returns the current lifecycle phase
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.log.Info("lifecycle", "phase", p.String())
}

// Install fetches every precache path into the static cache. It is
// all-or-nothing: on any failure nothing is stored and the controller
// returns to the parsed phase so Install can be retried. On success the
// controller does not wait for older instances and is ready to activate.
func (c *Controller) Install(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseParsed {
		p := c.phase
		c.mu.Unlock()
		return fmt.Errorf("install: controller is %s", p)
	}
	c.phase = PhaseInstalling
	c.mu.Unlock()
	c.log.Info("lifecycle", "phase", PhaseInstalling.String())

	entries := make([]*Entry, len(c.opts.Precache))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.opts.Precache {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, c.resolve(&url.URL{Path: p}).String(), nil)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			resp, err := c.fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			if !isSuccess(resp.Status) {
				return fmt.Errorf("precache %s: upstream status %d", p, resp.Status)
			}
			entries[i] = &resp.Entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.setPhase(PhaseParsed)
		c.log.Error("install failed", "error", err)
		return fmt.Errorf("install: %w", err)
	}

	static := c.caches.Open(c.StaticCacheName())
	for _, e := range entries {
		static.Put(e.URL, e)
	}
	c.log.Info("static assets cached", "cache", static.Name(), "count", len(entries))

	c.setPhase(PhaseInstalled)
	return nil
}

// Activate deletes every cache whose name is neither the current static nor
// dynamic cache, then starts intercepting requests.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseInstalled {
		p := c.phase
		c.mu.Unlock()
		return fmt.Errorf("activate: controller is %s", p)
	}
	c.phase = PhaseActivating
	c.mu.Unlock()
	c.log.Info("lifecycle", "phase", PhaseActivating.String())

	keep := map[string]bool{c.StaticCacheName(): true, c.DynamicCacheName(): true}
	for _, name := range c.caches.Keys() {
		if err := ctx.Err(); err != nil {
			c.setPhase(PhaseInstalled)
			return fmt.Errorf("activate: %w", err)
		}
		if !keep[name] {
			c.caches.Delete(name)
			c.log.Info("stale cache deleted", "cache", name)
		}
	}

	c.setPhase(PhaseActivated)
	return nil
}

// Handle answers r. Absolute URLs are only served for the origin host and
// the backend hosts; any other host gets a 403 that is never cached. Before
// activation every allowed request is forwarded untouched.
func (c *Controller) Handle(ctx context.Context, r *http.Request) *Response {
	if !c.allowed(r.URL) {
		c.log.Warn("foreign host rejected", "url", r.URL.String())
		return synthetic(http.StatusForbidden, "text/plain; charset=utf-8", "Forbidden")
	}
	if c.Phase() != PhaseActivated {
		return c.passThrough(ctx, r)
	}

	strategy := c.classifier.Classify(r)
	c.log.Debug("request classified", "method", r.Method, "url", r.URL.String(), "strategy", strategy.String())

	switch strategy {
	case ImageCacheFirst:
		return c.cacheFirst(ctx, r, func() *Response {
			if resp, ok := c.matchPath(c.opts.Placeholder); ok {
				return resp
			}
			return synthetic(http.StatusNotFound, "text/plain; charset=utf-8", "Not Found")
		})
	case NetworkFirst:
		return c.networkFirst(ctx, r)
	case StaticCacheFirst:
		return c.cacheFirst(ctx, r, func() *Response {
			if IsNavigation(r) {
				if resp, ok := c.matchPath("/"); ok {
					return resp
				}
			}
			return synthetic(http.StatusNotFound, "text/plain; charset=utf-8", "Not Found")
		})
	default:
		return c.passThrough(ctx, r)
	}
}

// ServeHTTP writes Handle's response
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := c.Handle(r.Context(), r)
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Del("Content-Length")
	h.Set(SourceHeader, string(resp.Source))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

func (c *Controller) passThrough(ctx context.Context, r *http.Request) *Response {
	resp, err := c.fetch(ctx, r)
	if err != nil {
		c.log.Warn("pass-through failed", "url", r.URL.String(), "error", err)
		return synthetic(http.StatusBadGateway, "text/plain; charset=utf-8", "Bad Gateway")
	}
	return resp
}

func (c *Controller) cacheFirst(ctx context.Context, r *http.Request, fallback func() *Response) *Response {
	key := c.cacheKey(r.URL)
	if e, ok := c.caches.Match(key); ok {
		return &Response{Entry: *e, Source: SourceCache}
	}

	resp, err := c.fetch(ctx, r)
	if err != nil {
		c.log.Warn("network unavailable, using fallback", "url", key, "error", err)
		return fallback()
	}
	if isSuccess(resp.Status) {
		c.caches.Open(c.DynamicCacheName()).Put(key, &resp.Entry)
	}
	return resp
}

func (c *Controller) networkFirst(ctx context.Context, r *http.Request) *Response {
	key := c.cacheKey(r.URL)
	resp, err := c.fetch(ctx, r)
	if err == nil {
		if isSuccess(resp.Status) {
			c.caches.Open(c.DynamicCacheName()).Put(key, &resp.Entry)
		}
		return resp
	}

	c.log.Warn("network unavailable, trying cache", "url", key, "error", err)
	if e, ok := c.caches.Match(key); ok {
		return &Response{Entry: *e, Source: SourceFallback}
	}
	return synthetic(http.StatusServiceUnavailable, "application/json",
		`{"error":"offline","message":"Network unavailable and no cached response"}`)
}

func (c *Controller) matchPath(p string) (*Response, bool) {
	if p == "" {
		return nil, false
	}
	e, ok := c.caches.Match(c.cacheKey(&url.URL{Path: p}))
	if !ok {
		return nil, false
	}
	return &Response{Entry: *e, Source: SourceFallback}, true
}

// fetch sends r upstream and buffers the whole response.
func (c *Controller) fetch(ctx context.Context, r *http.Request) (*Response, error) {
	out := r.Clone(ctx)
	out.URL = c.resolve(r.URL)
	out.Host = out.URL.Host
	out.RequestURI = ""
	removeHopHeaders(out.Header)

	resp, err := c.fetcher.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	removeHopHeaders(header)

	return &Response{
		Entry: Entry{
			URL:      out.URL.String(),
			Status:   resp.StatusCode,
			Header:   header,
			Body:     body,
			StoredAt: time.Now(),
		},
		Source: SourceNetwork,
	}, nil
}

// allowed reports whether u is relative, on the origin host, or on a
// backend host.
func (c *Controller) allowed(u *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	if strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host) {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return c.classifier.matchesBackend(u.Hostname())
	}
	return false
}

// resolve maps a request URL onto the origin. Absolute URLs are kept.
func (c *Controller) resolve(u *url.URL) *url.URL {
	if u.IsAbs() {
		return u
	}
	return c.origin.ResolveReference(&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery})
}

func (c *Controller) cacheKey(u *url.URL) string {
	r := *c.resolve(u)
	r.Fragment = ""
	r.RawFragment = ""
	return r.String()
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func synthetic(status int, contentType, body string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	return &Response{
		Entry: Entry{
			Status:   status,
			Header:   h,
			Body:     []byte(body),
			StoredAt: time.Now(),
		},
		Source: SourceFallback,
	}
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// ErrNotActivated is returned by operations that need an active controller.
var ErrNotActivated = errors.New("controller not activated")
