// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	// SQLite driver - pure Go, registers "sqlite".
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspace_state (
	workspace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (workspace, key)
);`

// SQLiteKV stores workspace state in a SQLite database. Several workspaces
// can share one database file.
type SQLiteKV struct {
	db        *sql.DB
	workspace string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// OpenSQLite opens or creates the database at path and scopes all keys to
// workspace. Use ":memory:" for a throwaway database.
func OpenSQLite(path, workspace string, logger *zap.Logger) (*SQLiteKV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workspace == "" {
		return nil, errors.New("workspace is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Debug("state database ready", zap.String("path", path), zap.String("workspace", workspace))
	return &SQLiteKV{db: db, workspace: workspace, logger: logger}, nil
}

// Close releases the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM workspace_state WHERE workspace = ? AND key = ?`,
		s.workspace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_state (workspace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.workspace, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_state WHERE workspace = ? AND key = ?`,
		s.workspace, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
