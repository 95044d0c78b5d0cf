// Package chat persists conversations, messages, users and settings in a
// key-value store, with full-snapshot backup and restore.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitfusion/fitfusion/internal/logger"
	"github.com/fitfusion/fitfusion/internal/storage"
)

// Storage keys owned by the manager.
const (
	KeyConversations = "fitfusion_chat_conversations"
	KeyMessages      = "fitfusion_chat_messages"
	KeyUsers         = "fitfusion_chat_users"
	KeySettings      = "fitfusion_chat_settings"
	KeyLastBackup    = "fitfusion_chat_last_backup"
)

// Keys lists every key the manager reads or writes.
var Keys = []string{KeyConversations, KeyMessages, KeyUsers, KeySettings, KeyLastBackup}

// Manager stores chat entities as JSON documents in a storage.KV.
//
// Getters never fail hard: they return the empty or default value alongside
// any error, so callers may ignore the error and render an empty state.
type Manager struct {
	kv        storage.KV
	syncDelay time.Duration
	quota     int64
	log       *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithSyncDelay sets how long SyncData pretends to talk to a server.
func WithSyncDelay(d time.Duration) Option {
	return func(m *Manager) { m.syncDelay = d }
}

// WithQuota sets the byte quota GetStorageUsage reports against.
func WithQuota(bytes int64) Option {
	return func(m *Manager) {
		if bytes > 0 {
			m.quota = bytes
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager over kv
func NewManager(kv storage.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:        kv,
		syncDelay: time.Second,
		quota:     storage.DefaultQuotaBytes,
		log:       logger.L().With("component", "chat"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// load decodes key into v. found is false when the key holds no value.
func (m *Manager) load(ctx context.Context, key string, v any) (found bool, err error) {
	data, err := m.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w: %v", key, storage.ErrCorrupt, err)
	}
	return true, nil
}

func (m *Manager) store(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := m.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

// SaveConversations replaces the stored conversation list and stamps the
// last backup time.
func (m *Manager) SaveConversations(ctx context.Context, convs []Conversation) error {
	if err := m.store(ctx, KeyConversations, convs); err != nil {
		m.log.Error("failed to save conversations", "error", err)
		return err
	}
	if err := m.stampBackup(ctx); err != nil {
		m.log.Error("failed to stamp last backup", "error", err)
		return err
	}
	m.log.Debug("conversations saved", "count", len(convs))
	return nil
}

// GetConversations returns the stored conversation list
func (m *Manager) GetConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if _, err := m.load(ctx, KeyConversations, &convs); err != nil {
		m.log.Error("failed to load conversations", "error", err)
		return []Conversation{}, err
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

// loadMessageMap reads the aggregate conversation id -> messages map.
func (m *Manager) loadMessageMap(ctx context.Context) (map[string][]Message, error) {
	all := make(map[string][]Message)
	if _, err := m.load(ctx, KeyMessages, &all); err != nil {
		return map[string][]Message{}, err
	}
	if all == nil {
		all = make(map[string][]Message)
	}
	return all, nil
}

// SaveMessages replaces the message list of one conversation. The aggregate
// map is rewritten through storage.KV.Update so concurrent saves for
// different conversations do not drop each other's changes.
func (m *Manager) SaveMessages(ctx context.Context, conversationID string, msgs []Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	err := m.kv.Update(ctx, KeyMessages, func(cur []byte, found bool) ([]byte, error) {
		all := make(map[string][]Message)
		if found && len(cur) > 0 {
			if err := json.Unmarshal(cur, &all); err != nil {
				return nil, fmt.Errorf("decoding %s: %w: %v", KeyMessages, storage.ErrCorrupt, err)
			}
			if all == nil {
				all = make(map[string][]Message)
			}
		}
		if msgs == nil {
			msgs = []Message{}
		}
		all[conversationID] = msgs
		return json.Marshal(all)
	})
	if err != nil {
		m.log.Error("failed to save messages", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("saving messages for %s: %w", conversationID, err)
	}
	m.log.Debug("messages saved", "conversation_id", conversationID, "count", len(msgs))
	return nil
}

// GetMessages returns the messages of one conversation in stored order
func (m *Manager) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	all, err := m.loadMessageMap(ctx)
	if err != nil {
		m.log.Error("failed to load messages", "conversation_id", conversationID, "error", err)
		return []Message{}, err
	}
	msgs, ok := all[conversationID]
	if !ok || msgs == nil {
		return []Message{}, nil
	}
	return msgs, nil
}

// SaveUsers replaces the stored user list
func (m *Manager) SaveUsers(ctx context.Context, users []User) error {
	if err := m.store(ctx, KeyUsers, users); err != nil {
		m.log.Error("failed to save users", "error", err)
		return err
	}
	return nil
}

// GetUsers returns the stored user list
func (m *Manager) GetUsers(ctx context.Context) ([]User, error) {
	var users []User
	if _, err := m.load(ctx, KeyUsers, &users); err != nil {
		m.log.Error("failed to load users", "error", err)
		return []User{}, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// SaveSettings replaces the stored settings
func (m *Manager) SaveSettings(ctx context.Context, s Settings) error {
	if err := m.store(ctx, KeySettings, s); err != nil {
		m.log.Error("failed to save settings", "error", err)
		return err
	}
	return nil
}

// GetSettings returns the stored settings, or DefaultSettings when none exist
func (m *Manager) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	found, err := m.load(ctx, KeySettings, &s)
	if err != nil {
		m.log.Error("failed to load settings", "error", err)
		return DefaultSettings(), err
	}
	if !found {
		return DefaultSettings(), nil
	}
	return s, nil
}

// LastBackup returns the time of the last backup stamp. ok is false when
// nothing was ever stamped.
func (m *Manager) LastBackup(ctx context.Context) (t time.Time, ok bool, err error) {
	var raw string
	found, err := m.load(ctx, KeyLastBackup, &raw)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	t, ok = parseTime(raw)
	if !ok {
		return time.Time{}, false, fmt.Errorf("decoding %s: %w", KeyLastBackup, storage.ErrCorrupt)
	}
	return t, true, nil
}

func (m *Manager) stampBackup(ctx context.Context) error {
	return m.store(ctx, KeyLastBackup, formatTime(nowFunc()))
}

// SyncData stands in for a remote sync: it waits for the configured delay
// and stamps the last backup time. No data leaves the process.
func (m *Manager) SyncData(ctx context.Context) error {
	timer := time.NewTimer(m.syncDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		m.log.Warn("sync aborted", "error", ctx.Err())
		return ctx.Err()
	case <-timer.C:
	}

	if err := m.stampBackup(ctx); err != nil {
		m.log.Error("sync failed", "error", err)
		return fmt.Errorf("sync: %w", err)
	}
	m.log.Info("sync completed")
	return nil
}

// ClearAllData removes every key the manager owns
func (m *Manager) ClearAllData(ctx context.Context) error {
	var errs []error
	for _, key := range Keys {
		if err := m.kv.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Error("failed to clear chat data", "error", err)
		return err
	}
	m.log.Info("chat data cleared")
	return nil
}

// StorageUsage is an estimate of the space used by the manager's keys.
type StorageUsage struct {
	Used       int64   `json:"used"`
	Quota      int64   `json:"quota"`
	Percentage float64 `json:"percentage"`
}

// GetStorageUsage sums the byte length of every owned value against the
// configured quota. It is an estimate, not a platform quota query.
func (m *Manager) GetStorageUsage(ctx context.Context) (StorageUsage, error) {
	usage := StorageUsage{Quota: m.quota}
	for _, key := range Keys {
		data, err := m.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			m.log.Error("failed to measure storage", "key", key, "error", err)
			return StorageUsage{Quota: m.quota}, fmt.Errorf("measuring %s: %w", key, err)
		}
		usage.Used += int64(len(data))
	}
	if usage.Quota > 0 {
		usage.Percentage = float64(usage.Used) / float64(usage.Quota) * 100
	}
	return usage, nil
}
