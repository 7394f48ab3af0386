package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-relay/internal/pipeline"
)

type fakeASRSession struct {
	chunks  [][]byte
	text    string
	err     error
	sendErr error
	closed  bool
}

func (f *fakeASRSession) SendAudio(_ context.Context, chunk []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeASRSession) Finish(context.Context) (*pipeline.ASRResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.ASRResult{Text: f.text}, nil
}

func (f *fakeASRSession) Close() error {
	f.closed = true
	return nil
}

type fakeRecognizer struct {
	sess *fakeASRSession
	err  error
	opts pipeline.ASROptions
}

func (f *fakeRecognizer) Start(_ context.Context, _ string, opts pipeline.ASROptions) (pipeline.ASRSession, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

type fakeRunner struct {
	events []pipeline.Event
	err    error
	text   string
	sc     pipeline.SessionContext
}

func (f *fakeRunner) Run(_ context.Context, sc *pipeline.SessionContext, text string, onEvent pipeline.EventCallback) (*pipeline.Result, error) {
	f.text = text
	f.sc = *sc
	if f.err != nil {
		return nil, f.err
	}
	if sc.SessionID == "" {
		sc.SessionID = "new-session"
	}
	for _, e := range f.events {
		if e.Type == pipeline.EventAudioOutputFinished {
			e.SessionID = sc.SessionID
		}
		if err := onEvent(e); err != nil {
			return nil, err
		}
	}
	return &pipeline.Result{SessionID: sc.SessionID}, nil
}

type sentFrames struct {
	frames []Envelope
	err    error
}

func (s *sentFrames) send(data []byte) error {
	if s.err != nil {
		return s.err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	s.frames = append(s.frames, env)
	return nil
}

func (s *sentFrames) types() []string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return out
}

type sessionFixture struct {
	asr    *fakeASRSession
	rec    *fakeRecognizer
	runner *fakeRunner
	out    *sentFrames
	sess   *Session
}

func newSessionFixture() *sessionFixture {
	asr := &fakeASRSession{text: "你好"}
	f := &sessionFixture{
		asr: asr,
		rec: &fakeRecognizer{sess: asr},
		runner: &fakeRunner{events: []pipeline.Event{
			{Type: pipeline.EventAudioOutputChunk, Audio: []byte("a1")},
			{Type: pipeline.EventAudioOutputChunk, Audio: []byte("a2")},
			{Type: pipeline.EventAudioOutputFinished},
		}},
		out: &sentFrames{},
	}
	cfg := SessionConfig{ASR: f.rec, ASREngine: "fake", Language: "zh-CN", Pipeline: f.runner, ASRTimeout: time.Second}
	sc := pipeline.SessionContext{UserID: "u1", RoleID: "1"}
	f.sess = NewSession(cfg, sc, f.out.send, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	require.NoError(t, err)
	return data
}

func startFrame(t *testing.T) []byte {
	return frame(t, TypeStartSession, StartPayload{InputFormat: "pcm16", SampleRate: 16000})
}

func chunkFrame(t *testing.T, b []byte) []byte {
	return frame(t, TypeAudioInputChunk, base64.StdEncoding.EncodeToString(b))
}

func TestSessionFullExchange(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	assert.Equal(t, StateSessionStarted, f.sess.State())
	assert.Equal(t, 16000, f.rec.opts.SampleRate)
	assert.Equal(t, "zh-CN", f.rec.opts.Language)

	require.NoError(t, f.sess.Handle(ctx, chunkFrame(t, []byte{1, 2})))
	require.NoError(t, f.sess.Handle(ctx, chunkFrame(t, []byte{3, 4})))
	assert.Equal(t, StateStreaming, f.sess.State())
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}}, f.asr.chunks)

	require.NoError(t, f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, struct{}{})))
	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, "你好", f.runner.text)
	assert.Equal(t, "u1", f.runner.sc.UserID)

	assert.Equal(t, []string{TypeSessionStarted, TypeAudioOutputChunk, TypeAudioOutputChunk, TypeAudioOutputFinished}, f.out.types())

	var audio string
	require.NoError(t, json.Unmarshal(f.out.frames[1].Payload, &audio))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("a1")), audio)

	var fin FinishedPayload
	require.NoError(t, json.Unmarshal(f.out.frames[3].Payload, &fin))
	assert.Equal(t, "new-session", fin.SessionID)
	assert.Equal(t, "new-session", f.sess.SessionID())
}

func TestSessionCarriesClientSessionID(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	start := frame(t, TypeStartSession, StartPayload{SessionID: "s-42", InputFormat: "pcm", SampleRate: 16000})
	require.NoError(t, f.sess.Handle(ctx, start))
	require.NoError(t, f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, nil)))
	assert.Equal(t, "s-42", f.runner.sc.SessionID)
}

func TestSessionChunkWhileIdleDropped(t *testing.T) {
	f := newSessionFixture()
	require.NoError(t, f.sess.Handle(context.Background(), chunkFrame(t, []byte{1})))
	assert.Equal(t, StateIdle, f.sess.State())
	assert.Empty(t, f.out.frames)
	assert.Empty(t, f.asr.chunks)
}

func TestSessionInvalidStartClosesWithError(t *testing.T) {
	cases := map[string]StartPayload{
		"zero rate":      {InputFormat: "pcm", SampleRate: 0},
		"unknown codec":  {InputFormat: "flac", SampleRate: 16000},
		"unknown output": {InputFormat: "pcm", SampleRate: 16000, OutputFormat: "aac"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			f := newSessionFixture()
			require.NoError(t, f.sess.Handle(context.Background(), frame(t, TypeStartSession, p)))
			assert.Equal(t, StateClosed, f.sess.State())
			require.Equal(t, []string{TypeError}, f.out.types())

			var ep ErrorPayload
			require.NoError(t, json.Unmarshal(f.out.frames[0].Payload, &ep))
			assert.Equal(t, pipeline.StageStart, ep.Stage)
		})
	}
}

func TestSessionMalformedFrame(t *testing.T) {
	f := newSessionFixture()
	require.NoError(t, f.sess.Handle(context.Background(), []byte("{not json")))
	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, []string{TypeError}, f.out.types())

	f = newSessionFixture()
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	require.NoError(t, f.sess.Handle(ctx, []byte("{not json")))
	assert.Equal(t, StateSessionStarted, f.sess.State())
	assert.Equal(t, []string{TypeSessionStarted}, f.out.types())
}

func TestSessionUnknownTypeIgnored(t *testing.T) {
	f := newSessionFixture()
	require.NoError(t, f.sess.Handle(context.Background(), frame(t, "ping", nil)))
	assert.Equal(t, StateIdle, f.sess.State())
	assert.Empty(t, f.out.frames)
}

func TestSessionDuplicateStartIgnored(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	assert.Equal(t, StateSessionStarted, f.sess.State())
	assert.Equal(t, []string{TypeSessionStarted}, f.out.types())
}

func TestSessionFinishWhileIdle(t *testing.T) {
	f := newSessionFixture()
	require.NoError(t, f.sess.Handle(context.Background(), frame(t, TypeAudioInputFinish, nil)))
	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, []string{TypeError}, f.out.types())
}

func TestSessionSendAudioFailureDropsChunk(t *testing.T) {
	f := newSessionFixture()
	f.asr.sendErr = errors.New("stream broken")
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	require.NoError(t, f.sess.Handle(ctx, chunkFrame(t, []byte{1})))
	assert.Equal(t, StateStreaming, f.sess.State())
	assert.Equal(t, []string{TypeSessionStarted}, f.out.types())
}

func TestSessionRecognizerStartFailure(t *testing.T) {
	f := newSessionFixture()
	f.rec.err = errors.New("asr down")
	require.NoError(t, f.sess.Handle(context.Background(), startFrame(t)))
	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, []string{TypeError}, f.out.types())
}

func TestSessionEmptyTranscript(t *testing.T) {
	f := newSessionFixture()
	f.asr.text = ""
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	require.NoError(t, f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, nil)))
	assert.Equal(t, StateClosed, f.sess.State())
	require.Equal(t, []string{TypeSessionStarted, TypeError}, f.out.types())

	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(f.out.frames[1].Payload, &ep))
	assert.Equal(t, pipeline.StageTranscription, ep.Stage)
	assert.Empty(t, f.runner.text)
}

func TestSessionPipelineStageError(t *testing.T) {
	f := newSessionFixture()
	f.runner.err = &pipeline.StageError{Stage: pipeline.StageCompletion, Err: errors.New("llm down")}
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))
	require.NoError(t, f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, nil)))

	require.Equal(t, []string{TypeSessionStarted, TypeError}, f.out.types())
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(f.out.frames[1].Payload, &ep))
	assert.Equal(t, pipeline.StageCompletion, ep.Stage)
	assert.Equal(t, "llm down", ep.Message)
}

func TestSessionTransportErrorReturned(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	require.NoError(t, f.sess.Handle(ctx, startFrame(t)))

	broken := errors.New("broken pipe")
	f.out.err = broken
	err := f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, nil))
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, StateClosed, f.sess.State())
}

func TestSessionCloseReleasesRecognizer(t *testing.T) {
	f := newSessionFixture()
	require.NoError(t, f.sess.Handle(context.Background(), startFrame(t)))
	f.sess.Close()
	assert.True(t, f.asr.closed)
}

func TestStartPayloadDefaultsOutputFormat(t *testing.T) {
	p := StartPayload{InputFormat: "wav", SampleRate: 24000}
	require.NoError(t, p.Validate())
	assert.Equal(t, "pcm", p.OutputFormat)
}

func TestSessionPassesOutputFormatToPipeline(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	start := frame(t, TypeStartSession, StartPayload{
		InputFormat:      "pcm16",
		SampleRate:       16000,
		OutputFormat:     "wav",
		OutputSampleRate: 24000,
	})
	require.NoError(t, f.sess.Handle(ctx, start))
	require.NoError(t, f.sess.Handle(ctx, frame(t, TypeAudioInputFinish, nil)))
	assert.Equal(t, "wav", f.runner.sc.OutputFormat)
	assert.Equal(t, 24000, f.runner.sc.OutputSampleRate)
}
