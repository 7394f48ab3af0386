package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-relay/internal/metrics"
	"github.com/hubenschmidt/voice-relay/internal/pipeline"
	"github.com/hubenschmidt/voice-relay/internal/store"
)

const (
	writeWait = 10 * time.Second
	// frameBacklog lets the reader keep watching for close while a turn runs.
	frameBacklog = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UserRoles looks up a user's selected role.
type UserRoles interface {
	LoadUserRole(ctx context.Context, userID string) (string, error)
}

// HandlerConfig holds what every connection shares.
type HandlerConfig struct {
	Session       SessionConfig
	Roles         UserRoles
	DefaultRoleID string
	MaxConcurrent int
	MaxFrameBytes int64
	LingerDelay   time.Duration
}

// Handler manages websocket conversation sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a websocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// Serve upgrades the request and runs one conversation session for an
// already authenticated user. Returns 503 when at capacity.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		metrics.SessionsRejected.Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	log := slog.With("conn_id", uuid.NewString(), "user_id", userID)
	sc := pipeline.SessionContext{
		UserID:   userID,
		RoleID:   h.resolveRole(r.Context(), userID, log),
		DeviceID: deviceID,
	}
	h.run(conn, sc, log)
}

func (h *Handler) resolveRole(ctx context.Context, userID string, log *slog.Logger) string {
	roleID, err := h.cfg.Roles.LoadUserRole(ctx, userID)
	if err == nil && roleID != "" {
		return roleID
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("load user role failed, using default", "error", err)
	}
	return h.cfg.DefaultRoleID
}

// run owns the connection until the session closes. A reader goroutine feeds
// frames in and cancels the session context when the transport goes away.
func (h *Handler) run(conn *websocket.Conn, sc pipeline.SessionContext, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxFrameBytes)
	}

	frames := make(chan []byte, frameBacklog)
	go readFrames(ctx, cancel, conn, frames, log)

	sess := NewSession(h.cfg.Session, sc, newFrameSender(conn), log)
	defer sess.Close()
	log.Info("connection opened", "role_id", sc.RoleID)

	for sess.State() != StateClosed {
		var data []byte
		select {
		case <-ctx.Done():
			log.Info("connection closed by client", "state", sess.State())
			return
		case data = <-frames:
		}
		if err := sess.Handle(ctx, data); err != nil {
			log.Warn("transport write failed", "error", err)
			return
		}
	}

	h.linger(ctx)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	log.Info("connection finished", "session_id", sess.SessionID())
}

// linger gives in-flight frames time to reach the client before closing.
func (h *Handler) linger(ctx context.Context) {
	if h.cfg.LingerDelay <= 0 {
		return
	}
	t := time.NewTimer(h.cfg.LingerDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- []byte, log *slog.Logger) {
	defer cancel()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("read loop ended", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			metrics.FramesDropped.WithLabelValues("binary").Inc()
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func newFrameSender(conn *websocket.Conn) Sender {
	var mu sync.Mutex
	return func(data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}
}
