package offline

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is the caching policy applied to a request.
type Strategy int

const (
	// PassThrough forwards the request and never caches.
	PassThrough Strategy = iota
	// ImageCacheFirst serves images from cache, falling back to a placeholder.
	ImageCacheFirst
	// NetworkFirst tries the network and falls back to the cached copy.
	NetworkFirst
	// StaticCacheFirst serves assets from cache, falling back to the root document for navigations.
	StaticCacheFirst
)

func (s Strategy) String() string {
	switch s {
	case PassThrough:
		return "pass-through"
	case ImageCacheFirst:
		return "image-cache-first"
	case NetworkFirst:
		return "network-first"
	case StaticCacheFirst:
		return "static-cache-first"
	default:
		return "unknown"
	}
}

var extensionSchemes = map[string]bool{
	"chrome-extension":     true,
	"moz-extension":        true,
	"safari-extension":     true,
	"safari-web-extension": true,
	"ms-browser-extension": true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
	".avif": true,
	".bmp":  true,
}

// Classifier picks a Strategy for each request.
type Classifier struct {
	APIPrefix    string
	BackendHosts []string
}

// Classify applies the rules in order: non-GET and extension schemes pass
// through, images are cache-first, API and backend calls are network-first,
// everything else is static cache-first.
func (c Classifier) Classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return PassThrough
	}
	if extensionSchemes[strings.ToLower(r.URL.Scheme)] {
		return PassThrough
	}
	if isImage(r) {
		return ImageCacheFirst
	}
	if c.APIPrefix != "" && strings.HasPrefix(r.URL.Path, c.APIPrefix) {
		return NetworkFirst
	}
	if c.matchesBackend(requestHost(r)) {
		return NetworkFirst
	}
	return StaticCacheFirst
}

// matchesBackend reports whether host equals a backend host or is one of
// its subdomains.
func (c Classifier) matchesBackend(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, b := range c.BackendHosts {
		b = strings.ToLower(strings.Trim(b, "."))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

func requestHost(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.Hostname()
	}
	return ""
}

func isImage(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Accept"), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(path.Ext(r.URL.Path))]
}

// IsNavigation reports whether r loads a top-level document.
func IsNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" || r.Header.Get("Sec-Fetch-Dest") == "document"
}
