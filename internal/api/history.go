package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hubenschmidt/voice-relay/internal/store"
)

type chatItem struct {
	ChatID    string    `json:"chat_id"`
	Title     string    `json:"title"`
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHistory lists the caller's sessions, newest first.
// GET /api/chat/history?offset=&limit=
func (h *Handler) ChatHistory(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, limit = clampPage(offset, limit)

	sessions, total, err := h.history.ListSessions(c.Request().Context(), UserID(c), offset, limit)
	if err != nil {
		slog.Error("list sessions", "error", err, "user_id", UserID(c))
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to load history"})
	}
	items := make([]chatItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, chatItem{ChatID: s.SessionID, Title: s.Title, RoleName: s.RoleName, CreatedAt: s.CreatedAt})
	}
	return ok(c, page[chatItem]{Items: items, Offset: offset, Limit: limit, Total: total})
}

// SessionHistoryRequest pages through one session's turns.
type SessionHistoryRequest struct {
	ChatID string `json:"chat_id"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type turnItem struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionHistory lists the turns of one of the caller's sessions, oldest first.
// POST /api/chat/session_history
func (h *Handler) SessionHistory(c echo.Context) error {
	ctx := c.Request().Context()

	var req SessionHistoryRequest
	if err := c.Bind(&req); err != nil || req.ChatID == "" {
		return fail(c, "chat_id is required")
	}
	sess, err := h.history.LoadSession(ctx, req.ChatID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != UserID(c)) {
		return fail(c, "chat not found")
	}
	if err != nil {
		slog.Error("load session", "error", err, "session_id", req.ChatID)
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to load history"})
	}

	offset, limit := clampPage(req.Offset, req.Limit)
	turns, total, err := h.history.ListTurns(ctx, req.ChatID, offset, limit)
	if err != nil {
		slog.Error("list turns", "error", err, "session_id", req.ChatID)
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to load history"})
	}
	items := make([]turnItem, 0, len(turns))
	for _, t := range turns {
		items = append(items, turnItem{ID: t.TurnID, User: t.UserMessage, Assistant: t.AssistantMessage, CreatedAt: t.CreatedAt})
	}
	return ok(c, page[turnItem]{Items: items, Offset: offset, Limit: limit, Total: total})
}
