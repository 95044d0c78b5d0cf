// Package server exposes the offline controller and the chat manager over
// HTTP. Everything outside the /_offline and /_chat control routes is
// handed to the controller.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fitfusion/fitfusion/internal/chat"
	"github.com/fitfusion/fitfusion/internal/logger"
	"github.com/fitfusion/fitfusion/internal/offline"
	"github.com/fitfusion/fitfusion/internal/storage"
)

// maxBodyBytes caps control request bodies, backups included.
const maxBodyBytes = 16 << 20

// Server routes control requests and proxies the rest.
type Server struct {
	controller *offline.Controller
	hub        *offline.Hub
	queue      *offline.StoreQueue
	chat       *chat.Manager
	log        *slog.Logger
}

// New creates a server. hub and queue may be nil; their routes then answer 404.
func New(controller *offline.Controller, hub *offline.Hub, queue *offline.StoreQueue, mgr *chat.Manager) *Server {
	return &Server{
		controller: controller,
		hub:        hub,
		queue:      queue,
		chat:       mgr,
		log:        logger.L().With("component", "server"),
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	o := r.PathPrefix("/_offline").Subrouter()
	o.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	o.HandleFunc("/caches", s.handleCaches).Methods(http.MethodGet)
	o.HandleFunc("/install", s.handleInstall).Methods(http.MethodPost)
	o.HandleFunc("/sync/{tag}", s.handleSync).Methods(http.MethodPost)
	o.HandleFunc("/push", s.handlePush).Methods(http.MethodPost)
	o.HandleFunc("/workouts", s.handleEnqueueWorkout).Methods(http.MethodPost)
	if s.hub != nil {
		o.Handle("/notifications", s.hub).Methods(http.MethodGet)
	}

	c := r.PathPrefix("/_chat").Subrouter()
	c.HandleFunc("/backup", s.handleExport).Methods(http.MethodGet)
	c.HandleFunc("/backup", s.handleImport).Methods(http.MethodPost)
	c.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	c.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	c.HandleFunc("/data", s.handleClear).Methods(http.MethodDelete)
	c.HandleFunc("/sync", s.handleChatSync).Methods(http.MethodPost)

	r.PathPrefix("/").Handler(s.controller)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"phase":  s.controller.Phase().String(),
	})
}

type stateResponse struct {
	Phase           string `json:"phase"`
	StaticCache     string `json:"staticCache"`
	DynamicCache    string `json:"dynamicCache"`
	PendingWorkouts int    `json:"pendingWorkouts"`
	Clients         int    `json:"clients"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := stateResponse{
		Phase:        s.controller.Phase().String(),
		StaticCache:  s.controller.StaticCacheName(),
		DynamicCache: s.controller.DynamicCacheName(),
	}
	if s.queue != nil {
		pending, err := s.queue.Pending(r.Context())
		if err != nil {
			s.log.Warn("reading workout queue failed", "error", err)
		}
		st.PendingWorkouts = len(pending)
	}
	if s.hub != nil {
		st.Clients = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, st)
}

type cacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	caches := s.controller.Caches()
	out := make([]cacheInfo, 0)
	for _, name := range caches.Keys() {
		out = append(out, cacheInfo{Name: name, Entries: caches.Open(name).Len()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if s.controller.Phase() == offline.PhaseActivated {
		writeJSON(w, http.StatusOK, map[string]string{"phase": offline.PhaseActivated.String()})
		return
	}
	// An install whose activation failed only needs activating again.
	if s.controller.Phase() != offline.PhaseInstalled {
		if err := s.controller.Install(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	if err := s.controller.Activate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": s.controller.Phase().String()})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	res, err := s.controller.Sync(r.Context(), tag)
	if err != nil {
		if errors.Is(err, offline.ErrNotActivated) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	n, err := s.controller.Push(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleEnqueueWorkout(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	id, err := s.queue.Enqueue(r.Context(), body)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", chat.BackupFileName(time.Now())))
	if err := s.chat.WriteBackup(r.Context(), w); err != nil {
		s.log.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	b, err := chat.ReadBackup(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.chat.ImportBackup(r.Context(), b); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.chat.SearchMessages(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.chat.GetStorageUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.ClearAllData(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.SyncData(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps storage and backup errors to HTTP statuses.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, chat.ErrInvalidBackup):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, storage.ErrCorrupt):
		return http.StatusInternalServerError
	default:
		return fallback
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"source", rec.Header().Get(offline.SourceHeader),
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status. It forwards Hijack so the
// notification websocket can upgrade through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
