package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chadiek/prescreen/internal/records"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"
)

const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps accounts and records in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id            TEXT PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  name          TEXT NOT NULL DEFAULT '',
  password_hash BLOB NOT NULL,
  created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS active_session (
  slot    INTEGER PRIMARY KEY CHECK (slot = 1),
  user_id TEXT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS records (
  id           TEXT PRIMARY KEY,
  user_id      TEXT NOT NULL,
  submitted_at TEXT NOT NULL,
  payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_user_submitted ON records(user_id, submitted_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SignUp creates an account and makes it the current user.
func (s *SQLiteStore) SignUp(ctx context.Context, email, password, name string) (records.User, error) {
	if err := records.ValidateCredentials(email, password); err != nil {
		return records.User{}, err
	}
	email = records.NormalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return records.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := records.User{ID: uuid.NewString(), Email: email, Name: strings.TrimSpace(name)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return records.User{}, fmt.Errorf("begin signup: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE email = ?`, email).Scan(&exists)
	if err != nil {
		return records.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return records.User{}, records.ErrEmailTaken
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, hash, s.now().UTC().Format(sqliteTime))
	if err != nil {
		return records.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := setCurrent(ctx, tx, u.ID); err != nil {
		return records.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return records.User{}, fmt.Errorf("commit signup: %w", err)
	}
	return u, nil
}

// Login checks the password and makes the account current.
func (s *SQLiteStore) Login(ctx context.Context, email, password string) (records.User, error) {
	var (
		u    records.User
		hash []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, password_hash FROM users WHERE email = ?`,
		records.NormalizeEmail(email)).Scan(&u.ID, &u.Email, &u.Name, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return records.User{}, records.ErrInvalidCredentials
	}
	if err != nil {
		return records.User{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return records.User{}, records.ErrInvalidCredentials
	}
	if err := setCurrent(ctx, s.db, u.ID); err != nil {
		return records.User{}, err
	}
	return u, nil
}

// Logout clears the persisted current user.
func (s *SQLiteStore) Logout(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_session`); err != nil {
		return fmt.Errorf("clear current user: %w", err)
	}
	return nil
}

// CurrentUser restores the user from the last login, if any.
func (s *SQLiteStore) CurrentUser(ctx context.Context) (records.User, bool, error) {
	var u records.User
	err := s.db.QueryRowContext(ctx, `
SELECT u.id, u.email, u.name FROM active_session c JOIN users u ON u.id = c.user_id WHERE c.slot = 1`).
		Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return records.User{}, false, nil
	}
	if err != nil {
		return records.User{}, false, fmt.Errorf("load current user: %w", err)
	}
	return u, true, nil
}

// List returns the user's records, newest first.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]records.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE user_id = ? ORDER BY submitted_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var r records.Record
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save assigns an id and timestamp when missing and stores the record.
func (s *SQLiteStore) Save(ctx context.Context, r records.Record) (records.Record, error) {
	if r.UserID == "" {
		return records.Record{}, records.ErrNotLoggedIn
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r = records.Stamp(r, s.now())
	payload, err := json.Marshal(r)
	if err != nil {
		return records.Record{}, fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO records (id, user_id, submitted_at, payload) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET submitted_at=excluded.submitted_at, payload=excluded.payload`,
		r.ID, r.UserID, r.SubmittedAt.UTC().Format(sqliteTime), string(payload))
	if err != nil {
		return records.Record{}, fmt.Errorf("save record: %w", err)
	}
	return r, nil
}

// Delete removes one of the user's records.
func (s *SQLiteStore) Delete(ctx context.Context, userID, recordID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ? AND user_id = ?`, recordID, userID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return records.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setCurrent(ctx context.Context, db execer, userID string) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO active_session (slot, user_id) VALUES (1, ?)
ON CONFLICT(slot) DO UPDATE SET user_id=excluded.user_id`, userID)
	if err != nil {
		return fmt.Errorf("set current user: %w", err)
	}
	return nil
}
