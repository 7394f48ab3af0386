package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrames(t *testing.T, s TTSSession) []AudioFrame {
	t.Helper()
	var frames []AudioFrame
	require.NoError(t, s.StreamSynthesize(context.Background(), func(f AudioFrame) error {
		frames = append(frames, f)
		return nil
	}))
	return frames
}

func TestStreamFramesMarksLast(t *testing.T) {
	var frames []AudioFrame
	err := streamFrames(bytes.NewReader(bytes.Repeat([]byte{1}, 10)), 4, func(f AudioFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Len(t, frames[0].Audio, 4)
	assert.Len(t, frames[1].Audio, 4)
	assert.Len(t, frames[2].Audio, 2)
	assert.False(t, frames[0].Last)
	assert.False(t, frames[1].Last)
	assert.True(t, frames[2].Last)
}

func TestStreamFramesExactMultiple(t *testing.T) {
	var frames []AudioFrame
	require.NoError(t, streamFrames(bytes.NewReader(make([]byte, 8)), 4, func(f AudioFrame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Len(t, frames, 2)
	assert.True(t, frames[1].Last)
	assert.Len(t, frames[1].Audio, 4)
}

func TestStreamFramesEmptyBody(t *testing.T) {
	var frames []AudioFrame
	require.NoError(t, streamFrames(strings.NewReader(""), 4, func(f AudioFrame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Last)
	assert.Empty(t, frames[0].Audio)
}

func TestStreamFramesCallbackErrorStops(t *testing.T) {
	stop := errors.New("client gone")
	calls := 0
	err := streamFrames(bytes.NewReader(make([]byte, 20)), 4, func(AudioFrame) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenAISynthesizerStreamsBody(t *testing.T) {
	audio := bytes.Repeat([]byte{7}, ttsFrameSize+100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "你好", body["input"])
		assert.Equal(t, "alloy", body["voice"])
		assert.Equal(t, "pcm", body["response_format"])
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	s := NewOpenAISynthesizer(srv.URL, "key", "tts-1", "alloy", srv.Client()).NewSession(TTSOptions{Format: "pcm"})
	require.NoError(t, s.Init(context.Background(), " 你好 "))
	frames := collectFrames(t, s)

	require.Len(t, frames, 2)
	assert.True(t, frames[1].Last)
	assert.Equal(t, audio, append(frames[0].Audio, frames[1].Audio...))
}

func TestHTTPSynthesizerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewPiperSynthesizer(srv.URL, "zh", srv.Client()).NewSession(TTSOptions{})
	require.NoError(t, s.Init(context.Background(), "hi"))
	err := s.StreamSynthesize(context.Background(), func(AudioFrame) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "piper status 502")
}

func TestHTTPSynthesizerRejectsBlankText(t *testing.T) {
	s := NewPiperSynthesizer("http://unused", "zh", http.DefaultClient).NewSession(TTSOptions{})
	assert.ErrorIs(t, s.Init(context.Background(), "  "), ErrEmptySynthesisText)
}

func TestCartesiaSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req cartesiaRequest
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "一段话", req.Transcript)
		assert.Equal(t, "voice-1", req.Voice.ID)
		assert.Equal(t, "raw", req.OutputFormat.Container)

		for _, chunk := range [][]byte{{1, 2}, {3}} {
			require.NoError(t, conn.WriteJSON(cartesiaResponse{Type: "chunk", Data: base64.StdEncoding.EncodeToString(chunk)}))
		}
		require.NoError(t, conn.WriteJSON(cartesiaResponse{Type: "done", Done: true}))
	}))
	defer srv.Close()

	synth := NewCartesiaSynthesizer("ws"+strings.TrimPrefix(srv.URL, "http"), "secret", "voice-1")
	s := synth.NewSession(TTSOptions{Format: "pcm", SampleRate: 16000})
	require.NoError(t, s.Init(context.Background(), "一段话"))
	frames := collectFrames(t, s)

	require.Len(t, frames, 3)
	assert.Equal(t, []byte{1, 2}, frames[0].Audio)
	assert.Equal(t, []byte{3}, frames[1].Audio)
	assert.True(t, frames[2].Last)
	assert.Empty(t, frames[2].Audio)
}

func TestCartesiaErrorMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var req cartesiaRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteJSON(cartesiaResponse{Type: "error", Error: "bad voice"})
	}))
	defer srv.Close()

	s := NewCartesiaSynthesizer("ws"+strings.TrimPrefix(srv.URL, "http"), "k", "v").NewSession(TTSOptions{})
	require.NoError(t, s.Init(context.Background(), "x"))
	err := s.StreamSynthesize(context.Background(), func(AudioFrame) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad voice")
}
