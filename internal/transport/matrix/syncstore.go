package matrix

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"
)

var _ mautrix.SyncStore = (*SQLSyncStore)(nil)

const syncStateSchema = `
CREATE TABLE IF NOT EXISTS matrix_sync_state (
	user_id TEXT NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (user_id, key)
)`

// SQLSyncStore keeps the sync token and filter ID in SQLite so a restarted
// bot resumes where it stopped instead of answering old messages again.
type SQLSyncStore struct {
	db *sql.DB
}

// OpenSyncStore opens (creating if needed) the SQLite file at path.
func OpenSyncStore(ctx context.Context, path string) (*SQLSyncStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync store: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, syncStateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare sync store: %w", err)
	}
	return &SQLSyncStore{db: db}, nil
}

func (s *SQLSyncStore) Close() error {
	return s.db.Close()
}

func (s *SQLSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID.String(), "filter_id", filterID)
}

func (s *SQLSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID.String(), "filter_id")
}

func (s *SQLSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID.String(), "next_batch", nextBatchToken)
}

// LoadNextBatch returns "" on the first run.
func (s *SQLSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID.String(), "next_batch")
}

func (s *SQLSyncStore) save(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	return err
}

func (s *SQLSyncStore) load(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
