package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fitfusion/fitfusion/internal/chat"
	"github.com/fitfusion/fitfusion/internal/logger"
	"github.com/fitfusion/fitfusion/internal/offline"
	"github.com/fitfusion/fitfusion/internal/storage"
)

type fixture struct {
	upstream   *httptest.Server
	srv        *httptest.Server
	controller *offline.Controller
	chat       *chat.Manager
	uploads    atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	up := http.NewServeMux()
	up.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>app</html>")
	})
	up.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"FitFusion"}`)
	})
	up.HandleFunc("/api/workouts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			f.uploads.Add(1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		io.WriteString(w, `[]`)
	})
	f.upstream = httptest.NewServer(up)
	t.Cleanup(f.upstream.Close)

	kv := storage.NewMemoryStore(0)
	queue := offline.NewStoreQueue(kv)
	hub := offline.NewHub()

	ctrl, err := offline.NewController(offline.Options{
		Origin:       f.upstream.URL,
		CachePrefix:  "fitfusion",
		CacheVersion: "v1",
		APIPrefix:    "/api/",
		Placeholder:  "/images/placeholder.png",
		Precache:     []string{"/", "/manifest.json"},
	}, f.upstream.Client(),
		offline.WithQueue(queue),
		offline.WithNotifier(hub),
		offline.WithLogger(logger.Discard()),
	)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	f.controller = ctrl
	f.chat = chat.NewManager(kv, chat.WithSyncDelay(time.Millisecond), chat.WithLogger(logger.Discard()))

	f.srv = httptest.NewServer(New(ctrl, hub, queue, f.chat).Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func (f *fixture) install(t *testing.T) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/_offline/install", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("install: status %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" || body["phase"] != "parsed" {
		t.Errorf("unexpected health %v", body)
	}
}

func TestProxyBeforeAndAfterInstall(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/manifest.json", "")
	if resp.Header.Get(offline.SourceHeader) != string(offline.SourceNetwork) {
		t.Errorf("expected network before install, got %q", resp.Header.Get(offline.SourceHeader))
	}

	f.install(t)

	resp = f.do(t, http.MethodGet, "/manifest.json", "")
	if resp.Header.Get(offline.SourceHeader) != string(offline.SourceCache) {
		t.Errorf("expected cache after install, got %q", resp.Header.Get(offline.SourceHeader))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"name":"FitFusion"}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestStateAndCaches(t *testing.T) {
	f := newFixture(t)
	f.install(t)

	var st stateResponse
	decode(t, f.do(t, http.MethodGet, "/_offline/state", ""), &st)
	if st.Phase != "activated" || st.StaticCache != "fitfusion-static-v1" {
		t.Errorf("unexpected state %+v", st)
	}

	var caches []cacheInfo
	decode(t, f.do(t, http.MethodGet, "/_offline/caches", ""), &caches)
	if len(caches) != 1 || caches[0].Name != "fitfusion-static-v1" || caches[0].Entries != 2 {
		t.Errorf("unexpected caches %+v", caches)
	}

	// A second install is a no-op.
	f.install(t)
}

func TestInstallActivatesInstalledController(t *testing.T) {
	f := newFixture(t)
	if err := f.controller.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	resp := f.do(t, http.MethodPost, "/_offline/install", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for an installed controller, got %d", resp.StatusCode)
	}
	if f.controller.Phase() != offline.PhaseActivated {
		t.Errorf("expected activated, got %s", f.controller.Phase())
	}
}

func TestWorkoutQueueAndSync(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/_offline/sync/"+offline.SyncTagWorkouts, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 before activation, got %d", resp.StatusCode)
	}

	f.install(t)

	resp = f.do(t, http.MethodPost, "/_offline/workouts", `{"exercise":"squat","reps":5}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var queued map[string]string
	decode(t, resp, &queued)
	if queued["id"] == "" {
		t.Error("expected queued workout id")
	}

	resp = f.do(t, http.MethodPost, "/_offline/workouts", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid workout, got %d", resp.StatusCode)
	}

	var res offline.SyncResult
	decode(t, f.do(t, http.MethodPost, "/_offline/sync/"+offline.SyncTagWorkouts, ""), &res)
	if res.Uploaded != 1 || f.uploads.Load() != 1 {
		t.Errorf("expected one upload, got %+v (%d)", res, f.uploads.Load())
	}

	var st stateResponse
	decode(t, f.do(t, http.MethodGet, "/_offline/state", ""), &st)
	if st.PendingWorkouts != 0 {
		t.Errorf("expected empty queue, got %d", st.PendingWorkouts)
	}
}

func TestPush(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/_offline/push", `{"title":"Goal reached","url":"/goals"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var n offline.Notification
	decode(t, resp, &n)
	if n.Title != "Goal reached" || n.URL != "/goals" || n.Body != "You have a new update" {
		t.Errorf("unexpected notification %+v", n)
	}

	resp = f.do(t, http.MethodPost, "/_offline/push", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 for empty push, got %d", resp.StatusCode)
	}
}

func seedChat(t *testing.T, m *chat.Manager) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := m.SaveConversations(ctx, []chat.Conversation{
		{ID: "c1", Participants: []string{"u1", "u2"}, CreatedAt: now, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("save conversations: %v", err)
	}
	err = m.SaveMessages(ctx, "c1", []chat.Message{
		{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "Hill sprints at 6?", Timestamp: now},
		{ID: "m2", SenderID: "u2", ReceiverID: "u1", Content: "Deal", Timestamp: now},
	})
	if err != nil {
		t.Fatalf("save messages: %v", err)
	}
}

func TestBackupExportImport(t *testing.T) {
	src := newFixture(t)
	seedChat(t, src.chat)

	resp := src.do(t, http.MethodGet, "/_chat/backup", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "fitfusion-chat-backup-") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)

	dst := newFixture(t)
	resp = dst.do(t, http.MethodPost, "/_chat/backup", string(data))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	msgs, err := dst.chat.GetMessages(context.Background(), "c1")
	if err != nil || len(msgs) != 2 {
		t.Errorf("expected 2 restored messages, got %d (%v)", len(msgs), err)
	}

	resp = dst.do(t, http.MethodPost, "/_chat/backup", `{"version":"1.0"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete backup, got %d", resp.StatusCode)
	}
	resp = dst.do(t, http.MethodPost, "/_chat/backup", `garbage`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for garbage, got %d", resp.StatusCode)
	}
}

func TestSearchUsageClear(t *testing.T) {
	f := newFixture(t)
	seedChat(t, f.chat)

	var results []chat.SearchResult
	decode(t, f.do(t, http.MethodGet, "/_chat/search?q=sprints", ""), &results)
	if len(results) != 1 || results[0].ConversationID != "c1" || len(results[0].Messages) != 1 {
		t.Errorf("unexpected results %+v", results)
	}

	results = nil
	decode(t, f.do(t, http.MethodGet, "/_chat/search", ""), &results)
	if len(results) != 0 {
		t.Errorf("expected no results for empty query, got %+v", results)
	}

	var usage chat.StorageUsage
	decode(t, f.do(t, http.MethodGet, "/_chat/usage", ""), &usage)
	if usage.Used == 0 || usage.Quota != storage.DefaultQuotaBytes {
		t.Errorf("unexpected usage %+v", usage)
	}

	if resp := f.do(t, http.MethodPost, "/_chat/sync", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 from sync, got %d", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, "/_chat/data", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from clear, got %d", resp.StatusCode)
	}
	convs, _ := f.chat.GetConversations(context.Background())
	if len(convs) != 0 {
		t.Errorf("expected no conversations after clear, got %d", len(convs))
	}
}
