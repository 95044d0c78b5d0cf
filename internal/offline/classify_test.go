package offline

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	c := Classifier{APIPrefix: "/api/", BackendHosts: []string{"supabase.co"}}

	tests := []struct {
		name   string
		method string
		target string
		header map[string]string
		want   Strategy
	}{
		{"post", http.MethodPost, "/api/workouts", nil, PassThrough},
		{"put image", http.MethodPut, "/images/a.png", nil, PassThrough},
		{"extension scheme", http.MethodGet, "chrome-extension://abcdef/popup.js", nil, PassThrough},
		{"image by extension", http.MethodGet, "/images/squat.PNG", nil, ImageCacheFirst},
		{"image by dest", http.MethodGet, "/avatar", map[string]string{"Sec-Fetch-Dest": "image"}, ImageCacheFirst},
		{"image by accept", http.MethodGet, "/avatar", map[string]string{"Accept": "image/webp,*/*"}, ImageCacheFirst},
		{"image beats api", http.MethodGet, "/api/avatar.png", nil, ImageCacheFirst},
		{"api", http.MethodGet, "/api/workouts?week=1", nil, NetworkFirst},
		{"backend host", http.MethodGet, "https://supabase.co/rest/v1/users", nil, NetworkFirst},
		{"backend subdomain", http.MethodGet, "https://xyz.supabase.co/rest/v1/users", nil, NetworkFirst},
		{"lookalike host", http.MethodGet, "https://notsupabase.co/rest", nil, StaticCacheFirst},
		{"asset", http.MethodGet, "/assets/app.js", nil, StaticCacheFirst},
		{"root", http.MethodGet, "/", nil, StaticCacheFirst},
		{"apiary is not api", http.MethodGet, "/apiary", nil, StaticCacheFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := c.Classify(req); got != tt.want {
				t.Errorf("Classify(%s %s) = %s, want %s", tt.method, tt.target, got, tt.want)
			}
		})
	}
}

func TestRelativeRequestIgnoresHostHeader(t *testing.T) {
	c := Classifier{BackendHosts: []string{"supabase.co"}}
	req := httptest.NewRequest(http.MethodGet, "/rest/v1/users", nil)
	req.Host = "xyz.supabase.co"
	if got := c.Classify(req); got != StaticCacheFirst {
		t.Errorf("expected static-cache-first for relative URL, got %s", got)
	}
}

func TestIsNavigation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/workouts", nil)
	if IsNavigation(req) {
		t.Error("plain request is not a navigation")
	}
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if !IsNavigation(req) {
		t.Error("navigate mode should be a navigation")
	}

	req = httptest.NewRequest(http.MethodGet, "/workouts", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	if !IsNavigation(req) {
		t.Error("document destination should be a navigation")
	}
}

func TestStrategyString(t *testing.T) {
	if NetworkFirst.String() != "network-first" {
		t.Errorf("unexpected %s", NetworkFirst)
	}
	if Strategy(99).String() != "unknown" {
		t.Errorf("unexpected %s", Strategy(99))
	}
}
