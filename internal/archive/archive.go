// Package archive writes finished conversations to SQLite. Sessions are
// exported when they end and are never loaded back.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"VoiceChat/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	username TEXT,
	start_time DATETIME,
	end_time DATETIME,
	end_reason TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	role TEXT,
	content TEXT,
	timestamp DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);`

// Store is a SQLite conversation archive.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the archive database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Save records an ended session and its messages in one transaction.
func (s *Store) Save(ctx context.Context, sess session.Session, reason session.EndReason) error {
	if sess.ID == "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, username, start_time, end_time, end_reason) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.Username, sess.StartTime, time.Now(), string(reason),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for _, msg := range sess.Messages {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
			sess.ID, msg.Role, msg.Content, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("session archived", "session_id", sess.ID, "message_count", len(sess.Messages), "reason", string(reason))
	return nil
}

// Count returns the number of archived sessions and messages.
func (s *Store) Count(ctx context.Context) (sessions, messages int, err error) {
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&messages); err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return sessions, messages, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
