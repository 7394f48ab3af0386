package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hubenschmidt/voice-relay/internal/store"
)

// ListRoles returns the default roles plus the user's own.
// GET /api/roles
func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.roles.ListRoles(c.Request().Context(), UserID(c))
	if err != nil {
		slog.Error("list roles", "error", err, "user_id", UserID(c))
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to list roles"})
	}
	if roles == nil {
		roles = []store.Role{}
	}
	return ok(c, roles)
}

// SwitchRoleRequest selects the user's active role.
type SwitchRoleRequest struct {
	RoleID string `json:"role_id"`
}

// SwitchRole stores the user's active role. The next conversation under a
// different role starts a new session.
// POST /api/role/switch
func (h *Handler) SwitchRole(c echo.Context) error {
	ctx := c.Request().Context()

	var req SwitchRoleRequest
	if err := c.Bind(&req); err != nil || req.RoleID == "" {
		return fail(c, "role_id is required")
	}
	if _, err := h.roles.LoadRole(ctx, req.RoleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, "role not found")
		}
		slog.Error("load role", "error", err, "role_id", req.RoleID)
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to switch role"})
	}
	if err := h.roles.SetUserRole(ctx, UserID(c), req.RoleID); err != nil {
		slog.Error("set user role", "error", err, "user_id", UserID(c))
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to switch role"})
	}
	slog.Info("role switched", "user_id", UserID(c), "device_id", DeviceID(c), "role_id", req.RoleID)
	return ok(c, map[string]string{"role_id": req.RoleID})
}

// AddRoleRequest creates a user-owned role.
type AddRoleRequest struct {
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	VoiceID     string `json:"voice_id"`
	PictureURL  string `json:"picture_url"`
	AuditionURL string `json:"audition_url"`
}

// AddRole creates a role owned by the caller.
// POST /api/add_role
func (h *Handler) AddRole(c echo.Context) error {
	var req AddRoleRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, "invalid request body")
	}
	if req.Name == "" {
		return fail(c, "name is required")
	}
	if req.Prompt == "" {
		return fail(c, "prompt is required")
	}

	role := &store.Role{
		CreatedBy:   UserID(c),
		Name:        req.Name,
		Prompt:      req.Prompt,
		VoiceID:     req.VoiceID,
		PictureURL:  req.PictureURL,
		AuditionURL: req.AuditionURL,
	}
	if err := h.roles.InsertRole(c.Request().Context(), role); err != nil {
		slog.Error("insert role", "error", err, "user_id", UserID(c))
		return c.JSON(http.StatusInternalServerError, response{Code: -1, Msg: "failed to add role"})
	}
	return ok(c, map[string]string{"id": role.RoleID})
}
