package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaultRoleSeeded(t *testing.T) {
	s := newTestStore(t)
	r, err := s.LoadRole(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, r.IsDefault)
	assert.NotEmpty(t, r.Name)

	_, err = s.LoadRole(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateSessionTitle(ctx, "s1", "x"), ErrNotFound)

	require.NoError(t, s.InsertSession(ctx, &Session{SessionID: "s1", UserID: "u1", RoleID: "1"}))
	require.NoError(t, s.UpdateSessionTitle(ctx, "s1", "聊天气"))

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "1", got.RoleID)
	assert.Equal(t, "聊天气", got.Title)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestLoadRecentTurnsReturnsNewestWindowOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, s.InsertTurn(ctx, &Turn{
			SessionID:        "s1",
			UserMessage:      fmt.Sprintf("u%d", i),
			AssistantMessage: fmt.Sprintf("a%d", i),
			CreatedAt:        base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.InsertTurn(ctx, &Turn{SessionID: "other", UserMessage: "x", AssistantMessage: "y", CreatedAt: base.Add(time.Hour)}))

	turns, err := s.LoadRecentTurns(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "u3", turns[0].UserMessage)
	assert.Equal(t, "u4", turns[1].UserMessage)

	none, err := s.LoadRecentTurns(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListTurnsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, s.InsertTurn(ctx, &Turn{SessionID: "s1", UserMessage: fmt.Sprint(i), AssistantMessage: "a", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	turns, total, err := s.ListTurns(ctx, "s1", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, turns, 2)
	assert.Equal(t, "1", turns[0].UserMessage)
	assert.Equal(t, "2", turns[1].UserMessage)
}

func TestListSessionsNewestFirstWithRoleName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertSession(ctx, &Session{SessionID: "old", UserID: "u1", RoleID: "1", CreatedAt: base}))
	require.NoError(t, s.InsertSession(ctx, &Session{SessionID: "new", UserID: "u1", RoleID: "gone", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.InsertSession(ctx, &Session{SessionID: "theirs", UserID: "u2", RoleID: "1", CreatedAt: base}))

	list, total, err := s.ListSessions(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SessionID)
	assert.Empty(t, list[0].RoleName)
	assert.Equal(t, "old", list[1].SessionID)
	assert.NotEmpty(t, list[1].RoleName)
}

func TestRolesAndUserRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadUserRole(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	mine := &Role{CreatedBy: "u1", Name: "老师", Prompt: "你是一位耐心的老师"}
	require.NoError(t, s.InsertRole(ctx, mine))
	assert.NotEmpty(t, mine.RoleID)
	require.NoError(t, s.InsertRole(ctx, &Role{CreatedBy: "u2", Name: "other"}))

	roles, err := s.ListRoles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "1", roles[0].RoleID)
	assert.Equal(t, mine.RoleID, roles[1].RoleID)

	require.NoError(t, s.SetUserRole(ctx, "u1", "1"))
	require.NoError(t, s.SetUserRole(ctx, "u1", mine.RoleID))
	got, err := s.LoadUserRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, mine.RoleID, got)
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres("postgres://u:p@h/db"))
	assert.True(t, IsPostgres("postgresql://h/db"))
	assert.False(t, IsPostgres("file:relay.db"))
	assert.False(t, IsPostgres(":memory:"))
}
