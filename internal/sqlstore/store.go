// Package sqlstore implements an optional queryable backend for the
// Session Store (internal/sessionstore.Store), for deployments that want
// session history in a real database instead of the default JSONL files
// (spec §1/§6 names the message-log format as an environment choice, not
// a fixed on-disk shape). It is grounded on the shape of the teacher's
// internal/jobs/store.go + cockroach.go split: one narrow Store interface,
// an in-memory implementation for tests, and a SQL-backed implementation
// with the same Create/Update/Get/List verbs reshaped around sessions and
// messages instead of jobs.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/internal/sessionstore"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Store is a sessionstore.Store backed by database/sql. The concrete driver
// is selected by the DSN's scheme at Open time; Store itself is driver-
// agnostic SQL (no dialect-specific statements beyond CREATE TABLE IF NOT
// EXISTS / placeholder style, applied once at construction).
type Store struct {
	db        *sql.DB
	placeholder func(n int) string
}

// Open parses dsn's scheme to pick a driver and registers the schema:
//
//	sqlite://path/to/file.db   -> modernc.org/sqlite (pure Go, default)
//	sqlite+cgo://path/to/file  -> github.com/mattn/go-sqlite3 (cgo build only)
//	postgres://...             -> github.com/lib/pq
//
// The sqlite scheme prefixes are stripped before handing the remainder to
// the driver; a postgres:// or postgresql:// URL is passed to lib/pq
// unchanged.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driverName, dataSourceName, placeholder, err := resolveDriver(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driverName, err)
	}

	s := &Store{db: db, placeholder: placeholder}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func resolveDriver(dsn string) (driverName, dataSourceName string, placeholder func(int) string, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite+cgo://"):
		return cgoSQLiteDriver, strings.TrimPrefix(dsn, "sqlite+cgo://"), questionPlaceholder, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), questionPlaceholder, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, dollarPlaceholder, nil
	default:
		return "", "", nil, fmt.Errorf("sqlstore: unrecognized DSN scheme in %q", dsn)
	}
}

func questionPlaceholder(int) string { return "?" }
func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			channel_session_key TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_channel_key ON sessions (channel_session_key)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			metadata TEXT,
			PRIMARY KEY (session_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying *sql.DB.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ sessionstore.Store = (*Store)(nil)

// GetOrCreate returns the session for key, inserting a new row owned by
// agentID/userID if none exists yet.
func (s *Store) GetOrCreate(ctx context.Context, key, agentID, userID string) (*moonmodels.Session, error) {
	sess, found, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return sess, nil
	}

	now := time.Now().UTC()
	sess = &moonmodels.Session{
		ID:                newSessionID(),
		ChannelSessionKey: key,
		AgentID:           agentID,
		UserID:            userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	q := fmt.Sprintf(`INSERT INTO sessions (id, channel_session_key, agent_id, user_id, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6))
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.ChannelSessionKey, sess.AgentID, sess.UserID, sess.CreatedAt, sess.UpdatedAt); err != nil {
		// Another goroutine may have won the race to insert this key first;
		// fall back to reading its row rather than erroring the caller.
		if existing, found, getErr := s.getByKey(ctx, key); getErr == nil && found {
			return existing, nil
		}
		return nil, fmt.Errorf("sqlstore: insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) getByKey(ctx context.Context, key string) (*moonmodels.Session, bool, error) {
	q := fmt.Sprintf(`SELECT id, channel_session_key, agent_id, user_id, created_at, updated_at
		FROM sessions WHERE channel_session_key = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, q, key)
	return scanSession(row)
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*moonmodels.Session, bool, error) {
	q := fmt.Sprintf(`SELECT id, channel_session_key, agent_id, user_id, created_at, updated_at
		FROM sessions WHERE id = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, q, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*moonmodels.Session, bool, error) {
	var sess moonmodels.Session
	err := row.Scan(&sess.ID, &sess.ChannelSessionKey, &sess.AgentID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: scan session: %w", err)
	}
	return &sess, true, nil
}

// Append adds msg to sessionID's message log and bumps the session's
// updated_at, both inside one transaction.
func (s *Store) Append(ctx context.Context, sessionID string, msg moonmodels.SessionMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin append: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int
	seqQ := fmt.Sprintf(`SELECT COALESCE(MAX(seq), -1) + 1 FROM session_messages WHERE session_id = %s`, s.placeholder(1))
	if err := tx.QueryRowContext(ctx, seqQ, sessionID).Scan(&nextSeq); err != nil {
		return fmt.Errorf("sqlstore: next seq: %w", err)
	}

	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	insertQ := fmt.Sprintf(`INSERT INTO session_messages (session_id, seq, type, content, timestamp, metadata)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6))
	if _, err := tx.ExecContext(ctx, insertQ, sessionID, nextSeq, string(msg.Type), msg.Content, msg.Timestamp, metadata); err != nil {
		return fmt.Errorf("sqlstore: insert message: %w", err)
	}

	touchQ := fmt.Sprintf(`UPDATE sessions SET updated_at = %s WHERE id = %s`, s.placeholder(1), s.placeholder(2))
	if _, err := tx.ExecContext(ctx, touchQ, time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("sqlstore: touch session: %w", err)
	}

	return tx.Commit()
}

// History returns up to limit of the most recent messages for sessionID,
// oldest first. limit <= 0 returns the full history.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]moonmodels.SessionMessage, error) {
	q := fmt.Sprintf(`SELECT type, content, timestamp, metadata FROM session_messages
		WHERE session_id = %s ORDER BY seq ASC`, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query history: %w", err)
	}
	defer rows.Close()

	var all []moonmodels.SessionMessage
	for rows.Next() {
		var msg moonmodels.SessionMessage
		var msgType string
		var metadata sql.NullString
		if err := rows.Scan(&msgType, &msg.Content, &msg.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		msg.Type = moonmodels.MessageType(msgType)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("sqlstore: decode metadata: %w", err)
			}
		}
		all = append(all, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode metadata: %w", err)
	}
	return string(data), nil
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
