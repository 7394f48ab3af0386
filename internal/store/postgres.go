package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStore implements Store on a pgx connection pool shared by all sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates the database at dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LoadRecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT section_id, session_id, user_message, assistant_message, created_at, updated_at
		 FROM sections WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, role_id, title, created_at, updated_at FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.RoleID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, sess *Session) error {
	stampCreate(&sess.CreatedAt, &sess.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, role_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.SessionID, sess.UserID, sess.RoleID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTurn(ctx context.Context, t *Turn) error {
	if t.TurnID == "" {
		t.TurnID = uuid.NewString()
	}
	stampCreate(&t.CreatedAt, &t.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sections (section_id, session_id, user_message, assistant_message, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TurnID, t.SessionID, t.UserMessage, t.AssistantMessage, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $1, updated_at = $2 WHERE session_id = $3`,
		title, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LoadRole(ctx context.Context, roleID string) (*Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE is_default OR created_by = $1 ORDER BY is_default DESC, created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
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

func (s *PostgresStore) InsertRole(ctx context.Context, r *Role) error {
	if r.RoleID == "" {
		r.RoleID = uuid.NewString()
	}
	stampCreate(&r.CreatedAt, &r.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO roles (id, created_by, is_default, name, picture_url, voice_id, audition_url, prompt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RoleID, r.CreatedBy, r.IsDefault, r.Name, r.PictureURL, r.VoiceID, r.AuditionURL, r.Prompt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_role (user_id, role_id, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET role_id = EXCLUDED.role_id, updated_at = EXCLUDED.updated_at`,
		userID, roleID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadUserRole(ctx context.Context, userID string) (string, error) {
	var roleID string
	err := s.pool.QueryRow(ctx, `SELECT role_id FROM user_role WHERE user_id = $1`, userID).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load user role: %w", err)
	}
	return roleID, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, offset, limit int) ([]SessionSummary, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT s.session_id, s.user_id, s.role_id, s.title, s.created_at, s.updated_at, COALESCE(r.name, '')
		 FROM sessions s LEFT JOIN roles r ON r.id = s.role_id
		 WHERE s.user_id = $1 ORDER BY s.created_at DESC LIMIT $2 OFFSET $3`,
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

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string, offset, limit int) ([]Turn, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sections WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT section_id, session_id, user_message, assistant_message, created_at, updated_at
		 FROM sections WHERE session_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list turns: %w", err)
	}
	turns, err := collectTurns(rows)
	return turns, total, err
}

func collectTurns(rows pgx.Rows) ([]Turn, error) {
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
