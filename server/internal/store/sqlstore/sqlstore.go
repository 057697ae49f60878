// Package sqlstore is the SQL backend of store.Store. It runs on SQLite
// (modernc.org/sqlite, pure Go, no cgo) or PostgreSQL (lib/pq).
//
// Each entity is stored as a JSON document next to the few columns that
// queries filter or sort on. Timestamps in those columns are Unix
// nanoseconds so ordering is identical on both engines.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/store"
)

// Dialect selects the SQL engine and its driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store implements store.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

// Open opens dsn with the driver for d and creates the schema. For SQLite
// dsn is a file path.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	switch d {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", d)
	}
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d, err)
	}
	if d == SQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlstore: opened", "dialect", d)
	return s, nil
}

// New wraps an open *sql.DB and creates the schema.
// Safe to call multiple times - uses IF NOT EXISTS.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    doc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_active ON users(is_active);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL,
    type TEXT NOT NULL,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at BIGINT,
    doc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_deleted ON messages(is_deleted, deleted_at);

CREATE TABLE IF NOT EXISTS polls (
    id TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL,
    doc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_polls_created_at ON polls(created_at);
`

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) q(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDuplicate reports whether err is a primary key violation.
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// --- users ------------------------------------------------------------------

func (s *Store) FindUser(ctx context.Context, id string) (*types.User, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT doc FROM users WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find user: %w", err)
	}
	var u types.User
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("sqlstore: decode user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("sqlstore: encode user: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO users (id, username, is_active, status, doc) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Username, boolInt(u.IsActive), string(u.Status), string(doc))
	if isDuplicate(err) {
		return fmt.Errorf("%w: user %q already exists", types.ErrValidation, u.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *types.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("sqlstore: encode user: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET username = ?, is_active = ?, status = ?, doc = ? WHERE id = ?`),
		u.Username, boolInt(u.IsActive), string(u.Status), string(doc), u.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update user: %w", err)
	}
	return affected(res, "user", u.ID)
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT doc FROM users WHERE is_active = 1 ORDER BY username`))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list users: %w", err)
	}
	return scanDocs[types.User](rows, "user")
}

// ResetPresence rewrites the affected documents inside one transaction; the
// liveness fields live in the JSON doc as well as in the indexed columns.
func (s *Store) ResetPresence(ctx context.Context, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		s.q(`SELECT doc FROM users WHERE is_active = 1 OR status <> ?`), string(types.StatusOffline))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: reset presence: %w", err)
	}
	users, err := scanDocs[types.User](rows, "user")
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		u.IsActive = false
		u.Status = types.StatusOffline
		u.CurrentConnectionID = ""
		u.LastActive = at
		doc, err := json.Marshal(u)
		if err != nil {
			return 0, fmt.Errorf("sqlstore: encode user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE users SET is_active = 0, status = ?, doc = ? WHERE id = ?`),
			string(u.Status), string(doc), u.ID); err != nil {
			return 0, fmt.Errorf("sqlstore: reset presence: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return len(users), nil
}

func (s *Store) CountUsers(ctx context.Context) (store.UserCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, is_active, COUNT(*) FROM users GROUP BY status, is_active`)
	if err != nil {
		return store.UserCounts{}, fmt.Errorf("sqlstore: count users: %w", err)
	}
	defer rows.Close()

	var c store.UserCounts
	for rows.Next() {
		var (
			status string
			active int
			n      int
		)
		if err := rows.Scan(&status, &active, &n); err != nil {
			return store.UserCounts{}, fmt.Errorf("sqlstore: scan user counts: %w", err)
		}
		c.Total += n
		if active != 0 {
			c.Active += n
		}
		switch types.UserStatus(status) {
		case types.StatusOnline:
			c.Online += n
		case types.StatusAway:
			c.Away += n
		default:
			c.Offline += n
		}
	}
	return c, rows.Err()
}

// --- messages ---------------------------------------------------------------

func (s *Store) CreateMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sqlstore: encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO messages (id, created_at, type, is_deleted, deleted_at, doc) VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.CreatedAt.UnixNano(), string(m.Type), boolInt(m.IsDeleted), nanos(m.DeletedAt), string(doc))
	if err != nil {
		return fmt.Errorf("sqlstore: insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	return s.getMessage(ctx, s.db, id)
}

// querier is the subset of *sql.DB and *sql.Tx the helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getMessage(ctx context.Context, q querier, id string) (*types.Message, error) {
	var doc string
	err := q.QueryRowContext(ctx, s.q(`SELECT doc FROM messages WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find message: %w", err)
	}
	var m types.Message
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("sqlstore: decode message: %w", err)
	}
	return &m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *types.Message) error {
	return s.updateMessage(ctx, s.db, m)
}

func (s *Store) updateMessage(ctx context.Context, q querier, m *types.Message) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sqlstore: encode message: %w", err)
	}
	res, err := q.ExecContext(ctx,
		s.q(`UPDATE messages SET type = ?, is_deleted = ?, deleted_at = ?, doc = ? WHERE id = ?`),
		string(m.Type), boolInt(m.IsDeleted), nanos(m.DeletedAt), string(doc), m.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update message: %w", err)
	}
	return affected(res, "message", m.ID)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m, err := s.getMessage(ctx, tx, id)
	if err != nil {
		return err
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	if err := s.updateMessage(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete message: %w", err)
	}
	return affected(res, "message", id)
}

func (s *Store) ListMessages(ctx context.Context, before time.Time, limit int) ([]*types.Message, error) {
	limit = store.ClampLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = s.db.QueryContext(ctx,
			s.q(`SELECT doc FROM messages WHERE is_deleted = 0 ORDER BY created_at DESC LIMIT ?`), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			s.q(`SELECT doc FROM messages WHERE is_deleted = 0 AND created_at < ? ORDER BY created_at DESC LIMIT ?`),
			before.UnixNano(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages: %w", err)
	}
	return scanDocs[types.Message](rows, "message")
}

func (s *Store) CountByType(ctx context.Context) (map[types.MessageType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM messages WHERE is_deleted = 0 GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: count messages by type: %w", err)
	}
	defer rows.Close()

	out := make(map[types.MessageType]int, len(types.MessageTypes))
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message counts: %w", err)
		}
		out[types.MessageType(typ)] = n
	}
	return out, rows.Err()
}

func (s *Store) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM messages WHERE is_deleted = 0 AND created_at >= ?`), since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count recent messages: %w", err)
	}
	return n, nil
}

func (s *Store) PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM messages WHERE is_deleted = 1 AND deleted_at < ?`), olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge messages: %w", err)
	}
	return int(n), nil
}

// --- polls ------------------------------------------------------------------

func (s *Store) CreatePoll(ctx context.Context, p *types.Poll) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlstore: encode poll: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO polls (id, created_at, doc) VALUES (?, ?, ?)`),
		p.ID, p.CreatedAt.UnixNano(), string(doc))
	if isDuplicate(err) {
		return fmt.Errorf("%w: poll %q already exists", types.ErrValidation, p.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: insert poll: %w", err)
	}
	return nil
}

func (s *Store) GetPoll(ctx context.Context, id string) (*types.Poll, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT doc FROM polls WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("poll %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find poll: %w", err)
	}
	var p types.Poll
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("sqlstore: decode poll: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdatePoll(ctx context.Context, p *types.Poll) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlstore: encode poll: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE polls SET doc = ? WHERE id = ?`), string(doc), p.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update poll: %w", err)
	}
	return affected(res, "poll", p.ID)
}

func (s *Store) DeletePoll(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM polls WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete poll: %w", err)
	}
	return affected(res, "poll", id)
}

func (s *Store) ListPolls(ctx context.Context) ([]*types.Poll, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM polls ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list polls: %w", err)
	}
	return scanDocs[types.Poll](rows, "poll")
}

// --- lifecycle --------------------------------------------------------------

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// --- helpers ----------------------------------------------------------------

// affected turns a zero-row update or delete into types.ErrNotFound.
func affected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, types.ErrNotFound)
	}
	return nil
}

// scanDocs decodes a single-column result set of JSON documents and closes
// rows.
func scanDocs[T any](rows *sql.Rows, kind string) ([]*T, error) {
	defer rows.Close()
	out := []*T{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %s: %w", kind, err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("sqlstore: decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate %s: %w", kind, err)
	}
	return out, nil
}
