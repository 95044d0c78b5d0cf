package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitfusion/fitfusion/internal/config"
	"github.com/fitfusion/fitfusion/internal/offline"
)

func testConfig(t *testing.T, origin string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Origin = origin
	cfg.Server.UpstreamTimeout = 5 * time.Second
	cfg.Storage.WorkDir = t.TempDir()
	cfg.Chat.SyncDelay = time.Millisecond
	cfg.Offline.Precache = []string{"/"}
	return cfg
}

func newUpstream(t *testing.T) *httptest.Server {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>fitfusion</html>")
	}))
	t.Cleanup(up.Close)
	return up
}

func TestNewApp(t *testing.T) {
	for _, driver := range []string{"memory", "file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, "http://localhost:5173")
			cfg.Storage.Driver = driver

			a, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer a.Close()

			if a.Chat() == nil || a.Controller() == nil || a.Queue() == nil {
				t.Error("expected every component to be initialized")
			}
			if a.Controller().Phase() != offline.PhaseParsed {
				t.Errorf("expected parsed phase, got %s", a.Controller().Phase())
			}
		})
	}
}

func TestNewAppRejectsBadOrigin(t *testing.T) {
	cfg := testConfig(t, "not a url")
	cfg.Storage.Driver = "memory"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for relative origin")
	}
}

func TestStartActivates(t *testing.T) {
	cfg := testConfig(t, newUpstream(t).URL)
	cfg.Storage.Driver = "memory"
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	a.Start(context.Background())
	if a.Controller().Phase() != offline.PhaseActivated {
		t.Errorf("expected activated, got %s", a.Controller().Phase())
	}
}

func TestStartToleratesUnreachableOrigin(t *testing.T) {
	up := newUpstream(t)
	origin := up.URL
	up.Close()

	cfg := testConfig(t, origin)
	cfg.Storage.Driver = "memory"
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	a.Start(context.Background())
	if a.Controller().Phase() != offline.PhaseParsed {
		t.Errorf("expected parsed after failed install, got %s", a.Controller().Phase())
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := testConfig(t, newUpstream(t).URL)
	cfg.Storage.Driver = "memory"
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var health map[string]string
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if health["phase"] == "activated" {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became ready: %v %v", err, health)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
