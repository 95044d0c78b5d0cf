package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BackupVersion tags every exported snapshot.
const BackupVersion = "1.0"

// ErrInvalidBackup indicates a backup missing one of its required fields.
var ErrInvalidBackup = errors.New("invalid backup")

// Backup is a full snapshot of the chat data. Users and Settings are
// optional on import; Conversations and Messages are required.
type Backup struct {
	Version       string               `json:"version"`
	Timestamp     time.Time            `json:"timestamp"`
	Conversations []Conversation       `json:"conversations"`
	Users         []User               `json:"users"`
	Messages      map[string][]Message `json:"messages"`
	Settings      *Settings            `json:"settings,omitempty"`
}

type backupAlias Backup

type backupRecord struct {
	backupAlias
	Timestamp string `json:"timestamp"`
}

// MarshalJSON stores the timestamp as an RFC 3339 string
func (b Backup) MarshalJSON() ([]byte, error) {
	return json.Marshal(backupRecord{backupAlias: backupAlias(b), Timestamp: formatTime(b.Timestamp)})
}

// UnmarshalJSON rehydrates the timestamp, defaulting to now when unparsable
func (b *Backup) UnmarshalJSON(data []byte) error {
	var rec backupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*b = Backup(rec.backupAlias)
	b.Timestamp = requiredTime(rec.Timestamp)
	return nil
}

// Validate reports ErrInvalidBackup unless version, conversations and
// messages are all present.
func (b *Backup) Validate() error {
	switch {
	case b == nil:
		return fmt.Errorf("%w: empty backup", ErrInvalidBackup)
	case b.Version == "":
		return fmt.Errorf("%w: missing version", ErrInvalidBackup)
	case b.Conversations == nil:
		return fmt.Errorf("%w: missing conversations", ErrInvalidBackup)
	case b.Messages == nil:
		return fmt.Errorf("%w: missing messages", ErrInvalidBackup)
	}
	return nil
}

// ExportBackup assembles a full snapshot of every stored entity. Messages
// are collected for each known conversation id.
func (m *Manager) ExportBackup(ctx context.Context) (*Backup, error) {
	convs, err := m.GetConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting conversations: %w", err)
	}
	users, err := m.GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting users: %w", err)
	}
	settings, err := m.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting settings: %w", err)
	}
	all, err := m.loadMessageMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting messages: %w", err)
	}

	messages := make(map[string][]Message, len(convs))
	for _, conv := range convs {
		msgs := all[conv.ID]
		if msgs == nil {
			msgs = []Message{}
		}
		messages[conv.ID] = msgs
	}

	b := &Backup{
		Version:       BackupVersion,
		Timestamp:     nowFunc().UTC(),
		Conversations: convs,
		Users:         users,
		Messages:      messages,
		Settings:      &settings,
	}
	m.log.Info("backup exported", "conversations", len(convs), "users", len(users))
	return b, nil
}

// ImportBackup replaces all stored data with the snapshot. An invalid
// backup is rejected before anything is touched. A failure after
// validation can leave partial state; there is no transaction.
func (m *Manager) ImportBackup(ctx context.Context, b *Backup) error {
	if err := b.Validate(); err != nil {
		m.log.Warn("backup rejected", "error", err)
		return err
	}

	if err := m.ClearAllData(ctx); err != nil {
		return fmt.Errorf("importing backup: %w", err)
	}
	if err := m.SaveConversations(ctx, b.Conversations); err != nil {
		return fmt.Errorf("importing backup: %w", err)
	}
	if b.Users != nil {
		if err := m.SaveUsers(ctx, b.Users); err != nil {
			return fmt.Errorf("importing backup: %w", err)
		}
	}
	if b.Settings != nil {
		if err := m.SaveSettings(ctx, *b.Settings); err != nil {
			return fmt.Errorf("importing backup: %w", err)
		}
	}
	for id, msgs := range b.Messages {
		if err := m.SaveMessages(ctx, id, msgs); err != nil {
			return fmt.Errorf("importing backup: %w", err)
		}
	}

	m.log.Info("backup imported", "version", b.Version, "conversations", len(b.Conversations))
	return nil
}

// WriteBackup encodes a fresh export to w as indented JSON.
func (m *Manager) WriteBackup(ctx context.Context, w io.Writer) error {
	b, err := m.ExportBackup(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	return nil
}

// BackupFileName is the download name for a backup taken at t.
func BackupFileName(t time.Time) string {
	return fmt.Sprintf("fitfusion-chat-backup-%s.json", t.UTC().Format("2006-01-02"))
}

// WriteBackupFile exports to a dated file in dir and returns its path.
func (m *Manager) WriteBackupFile(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	path := filepath.Join(dir, BackupFileName(nowFunc()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}
	if err := m.WriteBackup(ctx, f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing backup file: %w", err)
	}

	m.log.Info("backup file written", "path", path)
	return path, nil
}

// ReadBackup decodes a backup document. It does not validate it.
func ReadBackup(r io.Reader) (*Backup, error) {
	var b Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return &b, nil
}

// ReadBackupFile decodes the backup stored at path.
func ReadBackupFile(path string) (*Backup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()
	return ReadBackup(f)
}
