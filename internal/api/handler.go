// Package api provides the REST surface of the relay.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voice-relay/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// StreamHandler runs a websocket conversation for an authenticated user.
type StreamHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, userID, deviceID string)
}

// Engines reports the engine names a router can dispatch to.
type Engines interface {
	Engines() []string
}

// Handler handles REST requests.
type Handler struct {
	roles   store.RoleStore
	history store.HistoryStore
	stream  StreamHandler
	engines map[string]Engines
}

// NewHandler creates a new handler. engines maps a stage name (asr, llm, tts)
// to the router serving it.
func NewHandler(roles store.RoleStore, history store.HistoryStore, stream StreamHandler, engines map[string]Engines) *Handler {
	return &Handler{roles: roles, history: history, stream: stream, engines: engines}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api", RequireIdentity)
	g.GET("/roles", h.ListRoles)
	g.POST("/role/switch", h.SwitchRole, RequireDevice)
	g.POST("/add_role", h.AddRole)
	g.GET("/chat/history", h.ChatHistory)
	g.POST("/chat/session_history", h.SessionHistory)
	g.GET("/engines", h.ListEngines)
	g.GET("/ws/stream", h.Stream)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Stream upgrades into a websocket conversation.
// GET /api/ws/stream
func (h *Handler) Stream(c echo.Context) error {
	h.stream.Serve(c.Response(), c.Request(), UserID(c), DeviceID(c))
	return nil
}

// ListEngines reports the configured engines per stage.
// GET /api/engines
func (h *Handler) ListEngines(c echo.Context) error {
	out := make(map[string][]string, len(h.engines))
	for stage, r := range h.engines {
		out[stage] = r.Engines()
	}
	return ok(c, out)
}

// response is the envelope every /api route answers with.
type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, response{Code: 0, Msg: "success", Data: data})
}

// fail reports a domain error. These answer with HTTP 200 and a negative code.
func fail(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, response{Code: -1, Msg: msg})
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return offset, min(limit, maxLimit)
}

type page[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}
