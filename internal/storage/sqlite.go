package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/andyleap/identity/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT,
	email       TEXT NOT NULL,
	given_name  TEXT NOT NULL DEFAULT '',
	family_name TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_external_id ON users(external_id) WHERE external_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS users_email ON users(email);

CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL REFERENCES users(id),
	label         TEXT NOT NULL DEFAULT '',
	credential_id TEXT NOT NULL,
	public_key    BLOB NOT NULL,
	sign_count    INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS credentials_credential_id ON credentials(credential_id);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	token      TEXT NOT NULL UNIQUE,
	ip         TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLiteStore implements Store over a single SQLite file. One file
// backs identity, credential and session state so they share the same
// visibility boundary.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// isConflict detects a SQLite uniqueness violation.
func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableText(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (external_id, email, given_name, family_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullableText(user.ExternalID), models.NormalizeEmail(user.Email),
		user.GivenName, user.FamilyName, toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("create user: %w", ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user id: %w", err)
	}
	user.ID = id
	user.Email = models.NormalizeEmail(user.Email)
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var externalID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &externalID, &user.Email, &user.GivenName, &user.FamilyName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.ExternalID = externalID.String
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

const selectUser = `SELECT id, external_id, email, given_name, family_name, created_at, updated_at FROM users`

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE external_id = ?`, externalID))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE email = ?`, normalized))
}

func (s *SQLiteStore) SetExternalID(ctx context.Context, id int64, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET external_id = ?, updated_at = ? WHERE id = ?`,
		nullableText(externalID), toMillis(time.Now()), id)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("set external id: %w", ErrConflict)
		}
		return fmt.Errorf("set external id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateCredential(ctx context.Context, credential *models.Credential) error {
	now := time.Now()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, label, credential_id, public_key, sign_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		credential.UserID, credential.Label, credential.CredentialID,
		credential.PublicKey, credential.SignCount,
		toMillis(credential.CreatedAt), toMillis(credential.UpdatedAt))
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("create credential: %w", ErrConflict)
		}
		return fmt.Errorf("create credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create credential id: %w", err)
	}
	credential.ID = id
	return nil
}

const selectCredential = `SELECT id, user_id, label, credential_id, public_key, sign_count, created_at, updated_at FROM credentials`

func (s *SQLiteStore) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	var c models.Credential
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, selectCredential+` WHERE credential_id = ?`, credentialID).
		Scan(&c.ID, &c.UserID, &c.Label, &c.CredentialID, &c.PublicKey, &c.SignCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *SQLiteStore) ListCredentials(ctx context.Context, userID int64) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, selectCredential+` WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Label, &c.CredentialID, &c.PublicKey, &c.SignCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *SQLiteStore) UpdateSignCount(ctx context.Context, credentialID string, count uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, updated_at = ? WHERE credential_id = ?`,
		count, toMillis(time.Now()), credentialID)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, ip, user_agent, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Token, session.IP, session.UserAgent,
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt))
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("save session: %w", ErrConflict)
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	var createdAt, expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, ip, user_agent, created_at, expires_at FROM sessions WHERE id = ?`,
		sessionID).
		Scan(&session.ID, &session.UserID, &session.Token, &session.IP, &session.UserAgent, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)

	if time.Now().After(session.ExpiresAt) {
		_ = s.DeleteSession(ctx, sessionID)
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
