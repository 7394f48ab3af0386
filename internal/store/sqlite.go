package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// SQLiteStore implements Store on SQLite. It backs local development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps in-memory
	// databases shared across callers.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadRecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_id, session_id, user_message, assistant_message, created_at, updated_at
		 FROM sections WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, role_id, title, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.RoleID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) InsertSession(ctx context.Context, sess *Session) error {
	stampCreate(&sess.CreatedAt, &sess.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, role_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.RoleID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertTurn(ctx context.Context, t *Turn) error {
	if t.TurnID == "" {
		t.TurnID = uuid.NewString()
	}
	stampCreate(&t.CreatedAt, &t.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (section_id, session_id, user_message, assistant_message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.TurnID, t.SessionID, t.UserMessage, t.AssistantMessage, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) LoadRole(ctx context.Context, roleID string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, roleID)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE is_default = 1 OR created_by = ? ORDER BY is_default DESC, created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return scanRoles(rows)
}

func (s *SQLiteStore) InsertRole(ctx context.Context, r *Role) error {
	if r.RoleID == "" {
		r.RoleID = uuid.NewString()
	}
	stampCreate(&r.CreatedAt, &r.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, created_by, is_default, name, picture_url, voice_id, audition_url, prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RoleID, r.CreatedBy, r.IsDefault, r.Name, r.PictureURL, r.VoiceID, r.AuditionURL, r.Prompt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_role (user_id, role_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET role_id = excluded.role_id, updated_at = excluded.updated_at`,
		userID, roleID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadUserRole(ctx context.Context, userID string) (string, error) {
	var roleID string
	err := s.db.QueryRowContext(ctx, `SELECT role_id FROM user_role WHERE user_id = ?`, userID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load user role: %w", err)
	}
	return roleID, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, offset, limit int) ([]SessionSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.user_id, s.role_id, s.title, s.created_at, s.updated_at, COALESCE(r.name, '')
		 FROM sessions s LEFT JOIN roles r ON r.id = s.role_id
		 WHERE s.user_id = ? ORDER BY s.created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.UserID, &ss.RoleID, &ss.Title, &ss.CreatedAt, &ss.UpdatedAt, &ss.RoleName); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, ss)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, offset, limit int) ([]Turn, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sections WHERE session_id = ?`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_id, session_id, user_message, assistant_message, created_at, updated_at
		 FROM sections WHERE session_id = ? ORDER BY created_at, rowid LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list turns: %w", err)
	}
	turns, err := scanTurns(rows)
	return turns, total, err
}

const roleColumns = `id, created_by, is_default, name, picture_url, voice_id, audition_url, prompt, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var r Role
	err := row.Scan(&r.RoleID, &r.CreatedBy, &r.IsDefault, &r.Name, &r.PictureURL, &r.VoiceID, &r.AuditionURL, &r.Prompt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRoles(rows *sql.Rows) ([]Role, error) {
	defer rows.Close()
	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	defer rows.Close()
	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.UserMessage, &t.AssistantMessage, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func stampCreate(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now()
	}
	*created = created.UTC()
	if updated.IsZero() {
		*updated = *created
	}
	*updated = updated.UTC()
}
