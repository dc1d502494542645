package repositories

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"chatroom-service/internal/models"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCode        = errors.New("invalid access code")
	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialMismatch = errors.New("credential mismatch")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidUsername    = errors.New("invalid username")
)

const maxUsernameRunes = 32

// SessionStore owns users, the access-code pool and login sessions.
type SessionStore interface {
	Register(ctx context.Context, username, accessCode string) (models.User, error)
	Login(ctx context.Context, username, credential string) (models.Session, error)
	Validate(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) (bool, error)
	UserExists(ctx context.Context, username string) (bool, error)
	ListUsernames(ctx context.Context, exclude string) ([]string, error)
}

// SessionRepo is a sqlx implementation of SessionStore.
type SessionRepo struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionRepo constructs a SessionRepo issuing sessions valid for ttl.
func NewSessionRepo(db *sqlx.DB, ttl time.Duration) *SessionRepo {
	return &SessionRepo{db: db, ttl: ttl, now: time.Now}
}

// Register creates username by consuming a one-time access code.
func (r *SessionRepo) Register(ctx context.Context, username, accessCode string) (models.User, error) {
	if !validUsername(username) {
		return models.User{}, ErrInvalidUsername
	}
	if accessCode == "" {
		return models.User{}, ErrInvalidCode
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(accessCode), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash access code: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.User{}, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`), username); err != nil {
		return models.User{}, fmt.Errorf("check user: %w", err)
	}
	if exists {
		return models.User{}, ErrUserExists
	}

	now := r.now()
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE access_codes SET consumed_by = ?, consumed_at = ? WHERE code = ? AND consumed_by IS NULL`),
		username, now.UnixMilli(), accessCode)
	if err != nil {
		return models.User{}, fmt.Errorf("consume access code: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return models.User{}, err
	} else if n == 0 {
		return models.User{}, ErrInvalidCode
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO users (username, code_hash, created_at) VALUES (?, ?, ?)`),
		username, string(hash), now.UnixMilli()); err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, fmt.Errorf("commit register: %w", err)
	}
	return models.User{Username: username, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// isUniqueViolation reports a duplicate key from either supported driver.
// A concurrent registration can pass the existence check and still lose the insert.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

// Login checks the credential and issues a fresh session token. Earlier sessions stay valid.
func (r *SessionRepo) Login(ctx context.Context, username, credential string) (models.Session, error) {
	var hash string
	err := r.db.GetContext(ctx, &hash, r.db.Rebind(`SELECT code_hash FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrUserNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		return models.Session{}, ErrCredentialMismatch
	}

	token, err := newSessionToken()
	if err != nil {
		return models.Session{}, err
	}
	now := time.UnixMilli(r.now().UnixMilli()).UTC()
	session := models.Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO sessions (token, username, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		session.Token, session.Username, session.CreatedAt.UnixMilli(), session.ExpiresAt.UnixMilli()); err != nil {
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// Validate resolves token to a username. Unknown and expired tokens yield ErrSessionNotFound.
func (r *SessionRepo) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionNotFound
	}
	var row struct {
		Username  string `db:"username"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT username, expires_at FROM sessions WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if r.now().UnixMilli() >= row.ExpiresAt {
		return "", ErrSessionNotFound
	}
	return row.Username, nil
}

// Logout removes the session and reports whether it existed.
func (r *SessionRepo) Logout(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE token = ?`), token)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpired deletes sessions that expired before now.
func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// UserExists reports whether username is registered.
func (r *SessionRepo) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`), username)
	return exists, err
}

// ListUsernames returns every registered username except exclude, sorted.
func (r *SessionRepo) ListUsernames(ctx context.Context, exclude string) ([]string, error) {
	names := []string{}
	err := r.db.SelectContext(ctx, &names, r.db.Rebind(`SELECT username FROM users WHERE username <> ? ORDER BY username ASC`), exclude)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return names, nil
}

// EnsureAccessCodes seeds the pool with size fresh codes when it has never been seeded.
// It returns the generated codes, or nil when the pool already existed.
func (r *SessionRepo) EnsureAccessCodes(ctx context.Context, size int) ([]string, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM access_codes`); err != nil {
		return nil, fmt.Errorf("count access codes: %w", err)
	}
	if count > 0 || size <= 0 {
		return nil, nil
	}
	return r.AddAccessCodes(ctx, size)
}

// AddAccessCodes generates n unused five-digit codes and stores them.
func (r *SessionRepo) AddAccessCodes(ctx context.Context, n int) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin access codes: %w", err)
	}
	defer tx.Rollback()

	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := newAccessCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		var exists bool
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM access_codes WHERE code = ?)`), code); err != nil {
			return nil, fmt.Errorf("check access code: %w", err)
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO access_codes (code) VALUES (?)`), code); err != nil {
			return nil, fmt.Errorf("insert access code: %w", err)
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit access codes: %w", err)
	}
	return codes, nil
}

func validUsername(username string) bool {
	if username == "" || strings.TrimSpace(username) != username {
		return false
	}
	return utf8.RuneCountInString(username) <= maxUsernameRunes
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newAccessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return fmt.Sprintf("%d", 10000+n.Int64()), nil
}
