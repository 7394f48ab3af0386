package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-relay/internal/store"
)

type fakeUserRoles map[string]string

func (f fakeUserRoles) LoadUserRole(_ context.Context, userID string) (string, error) {
	if r, ok := f[userID]; ok {
		return r, nil
	}
	return "", store.ErrNotFound
}

func newTestServer(t *testing.T, f *sessionFixture, maxConc int) *httptest.Server {
	t.Helper()
	h := NewHandler(HandlerConfig{
		Session:       SessionConfig{ASR: f.rec, Pipeline: f.runner, ASRTimeout: time.Second},
		Roles:         fakeUserRoles{"u2": "7"},
		DefaultRoleID: "1",
		MaxConcurrent: maxConc,
		MaxFrameBytes: 1 << 20,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.Header.Get("X-User"), "dev1")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User": {user}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHandlerConversation(t *testing.T) {
	f := newSessionFixture()
	srv := newTestServer(t, f, 2)
	conn := dial(t, srv, "u2")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, startFrame(t)))
	assert.Equal(t, TypeSessionStarted, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, chunkFrame(t, []byte{1, 2, 3, 4})))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame(t, TypeAudioInputFinish, nil)))

	assert.Equal(t, TypeAudioOutputChunk, readEnvelope(t, conn).Type)
	assert.Equal(t, TypeAudioOutputChunk, readEnvelope(t, conn).Type)
	assert.Equal(t, TypeAudioOutputFinished, readEnvelope(t, conn).Type)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Equal(t, "u2", f.runner.sc.UserID)
	assert.Equal(t, "7", f.runner.sc.RoleID)
	assert.Equal(t, "dev1", f.runner.sc.DeviceID)
}

func TestHandlerDefaultRole(t *testing.T) {
	f := newSessionFixture()
	srv := newTestServer(t, f, 2)
	conn := dial(t, srv, "nobody")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, startFrame(t)))
	readEnvelope(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame(t, TypeAudioInputFinish, nil)))
	for range 3 {
		readEnvelope(t, conn)
	}
	assert.Equal(t, "1", f.runner.sc.RoleID)
}

func TestHandlerRejectsOverCapacity(t *testing.T) {
	f := newSessionFixture()
	srv := newTestServer(t, f, 1)
	dial(t, srv, "u1")

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.Eventually(t, func() bool {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		return err != nil && resp != nil && resp.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 20*time.Millisecond)
}
