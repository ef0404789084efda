package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	_ "modernc.org/sqlite"
)

// StatusMessage is the name of the persisted status message reference
const StatusMessage = "status"

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Message reference methods ---

// GetMessageRef returns the named message reference; ok is false if unset
func (s *Store) GetMessageRef(ctx context.Context, name string) (ref domain.MessageRef, updatedAt time.Time, ok bool, err error) {
	ref, updatedAt, err = scanMessageRef(s.db.QueryRowContext(ctx, `
		SELECT channel_id, message_id, updated_at FROM message_refs WHERE name = ?
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MessageRef{}, time.Time{}, false, nil
	}
	if err != nil {
		return domain.MessageRef{}, time.Time{}, false, err
	}
	return ref, updatedAt, true, nil
}

// LoadMessageRef returns the status message reference
func (s *Store) LoadMessageRef(ctx context.Context) (domain.MessageRef, bool, error) {
	ref, _, ok, err := s.GetMessageRef(ctx, StatusMessage)
	return ref, ok, err
}

// SetMessageRef creates or replaces the named message reference
func (s *Store) SetMessageRef(ctx context.Context, name string, ref domain.MessageRef) error {
	if ref.ChannelID == "" || ref.MessageID == "" {
		return errors.New("channel and message id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_refs (name, channel_id, message_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			channel_id = excluded.channel_id,
			message_id = excluded.message_id,
			updated_at = excluded.updated_at
	`, name, ref.ChannelID, ref.MessageID, formatTimestamp(time.Now()))
	return err
}

// ClearMessageRef removes the named message reference.
// It reports whether a reference existed.
func (s *Store) ClearMessageRef(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM message_refs WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// legacyRef is the data file layout written by earlier versions of the bot
type legacyRef struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// ImportJSON reads a legacy data file and stores it as the status message reference
func (s *Store) ImportJSON(ctx context.Context, path string) (domain.MessageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var legacy legacyRef
	if err := json.Unmarshal(data, &legacy); err != nil {
		return domain.MessageRef{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	ref := domain.MessageRef{ChannelID: legacy.ChannelID, MessageID: legacy.MessageID}
	if err := s.SetMessageRef(ctx, StatusMessage, ref); err != nil {
		return domain.MessageRef{}, err
	}
	return ref, nil
}
