// Package store persists sessions, turns, roles and user role selections.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Session is one conversation between a user and a role.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionSummary is a session row joined with its role name for history listings.
type SessionSummary struct {
	Session
	RoleName string `json:"role_name"`
}

// Turn is one persisted user/assistant exchange. Turns are never updated.
type Turn struct {
	TurnID           string    `json:"turn_id"`
	SessionID        string    `json:"session_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Role supplies the system prompt and voice for a conversation.
type Role struct {
	RoleID      string    `json:"id"`
	CreatedBy   string    `json:"created_by"`
	IsDefault   bool      `json:"is_default"`
	Name        string    `json:"name"`
	PictureURL  string    `json:"picture_url"`
	VoiceID     string    `json:"voice_id"`
	AuditionURL string    `json:"audition_url"`
	Prompt      string    `json:"prompt"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversationStore is what the conversation pipeline needs.
type ConversationStore interface {
	// LoadRecentTurns returns at most limit of the newest turns, oldest first.
	LoadRecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	LoadSession(ctx context.Context, sessionID string) (*Session, error)
	InsertSession(ctx context.Context, s *Session) error
	InsertTurn(ctx context.Context, t *Turn) error
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	LoadRole(ctx context.Context, roleID string) (*Role, error)
}

// RoleStore manages roles and each user's active role.
type RoleStore interface {
	ListRoles(ctx context.Context, userID string) ([]Role, error)
	InsertRole(ctx context.Context, r *Role) error
	LoadRole(ctx context.Context, roleID string) (*Role, error)
	SetUserRole(ctx context.Context, userID, roleID string) error
	LoadUserRole(ctx context.Context, userID string) (string, error)
}

// HistoryStore pages through a user's past conversations.
type HistoryStore interface {
	LoadSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, userID string, offset, limit int) ([]SessionSummary, int, error)
	ListTurns(ctx context.Context, sessionID string, offset, limit int) ([]Turn, int, error)
}

// Store is the full persistence surface backed by one database.
type Store interface {
	ConversationStore
	RoleStore
	HistoryStore
	Close() error
}

func reverseTurns(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
