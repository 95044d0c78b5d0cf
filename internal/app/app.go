// Package app wires configuration, storage, the offline controller and the
// chat manager into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitfusion/fitfusion/internal/chat"
	"github.com/fitfusion/fitfusion/internal/config"
	"github.com/fitfusion/fitfusion/internal/logger"
	"github.com/fitfusion/fitfusion/internal/offline"
	"github.com/fitfusion/fitfusion/internal/server"
	"github.com/fitfusion/fitfusion/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component
type App struct {
	config     *config.Config
	kv         storage.KV
	chat       *chat.Manager
	queue      *offline.StoreQueue
	hub        *offline.Hub
	controller *offline.Controller
	server     *server.Server
	log        *slog.Logger
}

// New creates an app instance from cfg
func New(cfg *config.Config) (*App, error) {
	if err := cfg.EnsureWorkDir(); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	kv, err := storage.Open(storage.Config{
		Driver:     cfg.Storage.Driver,
		Path:       cfg.StoragePath(),
		QuotaBytes: cfg.Storage.QuotaBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	mgr := chat.NewManager(kv,
		chat.WithSyncDelay(cfg.Chat.SyncDelay),
		chat.WithQuota(cfg.Storage.QuotaBytes),
	)
	queue := offline.NewStoreQueue(kv)
	hub := offline.NewHub()

	client := &http.Client{
		Timeout: cfg.Server.UpstreamTimeout,
		// The page sees upstream redirects itself.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	ctrl, err := offline.NewController(offline.Options{
		Origin:       cfg.Server.Origin,
		CachePrefix:  cfg.Offline.CachePrefix,
		CacheVersion: cfg.Offline.CacheVersion,
		APIPrefix:    cfg.Offline.APIPrefix,
		BackendHosts: cfg.Offline.BackendHosts,
		Placeholder:  cfg.Offline.Placeholder,
		Precache:     cfg.Offline.Precache,
	}, client,
		offline.WithQueue(queue),
		offline.WithNotifier(notifiers{hub, offline.LogNotifier{}}),
	)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("initializing offline controller: %w", err)
	}

	return &App{
		config:     cfg,
		kv:         kv,
		chat:       mgr,
		queue:      queue,
		hub:        hub,
		controller: ctrl,
		server:     server.New(ctrl, hub, queue, mgr),
		log:        logger.L().With("component", "app"),
	}, nil
}

// Chat returns the chat manager
func (a *App) Chat() *chat.Manager {
	return a.chat
}

// Controller returns the offline controller
func (a *App) Controller() *offline.Controller {
	return a.controller
}

// Queue returns the pending workout queue
func (a *App) Queue() *offline.StoreQueue {
	return a.queue
}

// Handler returns the HTTP handler for every route
func (a *App) Handler() http.Handler {
	return a.server.Router()
}

// Start installs and activates the controller. A failed install is logged
// and the controller keeps passing requests through; it can be retried
// with POST /_offline/install.
func (a *App) Start(ctx context.Context) {
	if err := a.controller.Install(ctx); err != nil {
		a.log.Warn("offline install failed, serving pass-through", "origin", a.config.Server.Origin, "error", err)
		return
	}
	if err := a.controller.Activate(ctx); err != nil {
		a.log.Warn("offline activation failed", "error", err)
	}
}

// Run listens on the configured address and serves until ctx is done
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.config.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the controller and serves on ln until ctx is done, then
// shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.Start(ctx)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so websocket streams stop on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", "addr", ln.Addr().String(), "origin", a.config.Server.Origin)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the storage backend
func (a *App) Close() error {
	return a.kv.Close()
}

// notifiers shows each notification on every notifier in turn.
type notifiers []offline.Notifier

func (ns notifiers) Show(ctx context.Context, n offline.Notification) error {
	var errs []error
	for _, x := range ns {
		if err := x.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
