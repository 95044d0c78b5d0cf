package offline

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Show(ctx, NewNotification(PushPayload{Title: "Rest day", Body: "Recover well"})); err != nil {
		t.Fatalf("show: %v", err)
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("expected text message, got %v", typ)
	}
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Title != "Rest day" || n.Body != "Recover well" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestHubShowWithoutClients(t *testing.T) {
	if err := NewHub().Show(context.Background(), NewNotification(PushPayload{})); err != nil {
		t.Errorf("show without clients should succeed: %v", err)
	}
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code < 400 {
		t.Errorf("expected an error status for non-websocket request, got %d", rec.Code)
	}
	if hub.Clients() != 0 {
		t.Errorf("no client should be registered")
	}
}
