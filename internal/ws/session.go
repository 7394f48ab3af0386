package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hubenschmidt/voice-relay/internal/audio"
	"github.com/hubenschmidt/voice-relay/internal/metrics"
	"github.com/hubenschmidt/voice-relay/internal/pipeline"
)

// State is a connection's protocol state.
type State int

const (
	StateIdle State = iota
	StateSessionStarted
	StateStreaming
	StateFinishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionStarted:
		return "session_started"
	case StateStreaming:
		return "streaming"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Recognizer opens transcription sessions by engine name.
type Recognizer interface {
	Start(ctx context.Context, engine string, opts pipeline.ASROptions) (pipeline.ASRSession, error)
}

// Runner answers one transcribed utterance.
type Runner interface {
	Run(ctx context.Context, sc *pipeline.SessionContext, text string, onEvent pipeline.EventCallback) (*pipeline.Result, error)
}

// SessionConfig is shared by every connection's protocol session.
type SessionConfig struct {
	ASR        Recognizer
	ASREngine  string
	Language   string
	Pipeline   Runner
	ASRTimeout time.Duration
}

// Sender writes one encoded text frame to the client.
type Sender func(data []byte) error

// Session is the protocol state machine of one connection. It is driven by
// a single goroutine and is not safe for concurrent use.
type Session struct {
	cfg   SessionConfig
	send  Sender
	log   *slog.Logger
	state State

	sc      pipeline.SessionContext
	asr     pipeline.ASRSession
	sendErr error
}

// NewSession creates a session in the Idle state for the given identity.
func NewSession(cfg SessionConfig, sc pipeline.SessionContext, send Sender, log *slog.Logger) *Session {
	return &Session{cfg: cfg, sc: sc, send: send, log: log}
}

// State reports the current protocol state.
func (s *Session) State() State { return s.state }

// SessionID is the conversation the session currently belongs to.
func (s *Session) SessionID() string { return s.sc.SessionID }

// Handle processes one inbound text frame. It returns a non-nil error only
// when the transport failed, in which case the connection must close
// without lingering. Once State is Closed the caller lingers and closes.
func (s *Session) Handle(ctx context.Context, data []byte) error {
	if s.state == StateClosed {
		return nil
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return s.protocolError(err)
	}

	switch env.Type {
	case TypeStartSession:
		s.handleStart(ctx, env)
	case TypeAudioInputChunk:
		s.handleChunk(ctx, env)
	case TypeAudioInputFinish:
		s.handleFinish(ctx)
	default:
		s.log.Info("unknown frame type ignored", "type", env.Type, "state", s.state)
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
	}
	return s.sendErr
}

// Close releases the recognition session, if any.
func (s *Session) Close() {
	if s.asr != nil {
		s.asr.Close()
		s.asr = nil
	}
	s.state = StateClosed
}

// protocolError is fatal before the session started and ignored after.
func (s *Session) protocolError(err error) error {
	if s.state != StateIdle {
		s.log.Warn("malformed frame ignored", "error", err, "state", s.state)
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return nil
	}
	s.fail(pipeline.StageProtocol, err)
	return s.sendErr
}

func (s *Session) handleStart(ctx context.Context, env *Envelope) {
	if s.state != StateIdle {
		s.log.Info("duplicate start_session ignored", "state", s.state)
		metrics.FramesDropped.WithLabelValues("duplicate_start").Inc()
		return
	}
	p, err := decodeStart(env.Payload)
	if err != nil {
		s.fail(pipeline.StageStart, err)
		return
	}
	if p.SessionID != "" {
		s.sc.SessionID = p.SessionID
	}
	s.sc.OutputFormat = p.OutputFormat
	s.sc.OutputSampleRate = p.OutputSampleRate

	asr, err := s.cfg.ASR.Start(ctx, s.cfg.ASREngine, pipeline.ASROptions{
		Format:     audio.Codec(p.InputFormat),
		SampleRate: p.SampleRate,
		Language:   s.cfg.Language,
	})
	if err != nil {
		s.fail(pipeline.StageTranscription, err)
		return
	}
	s.asr = asr

	if !s.emit(TypeSessionStarted, nil) {
		return
	}
	s.state = StateSessionStarted
	s.log.Info("session started", "session_id", p.SessionID, "input_format", p.InputFormat,
		"sample_rate", p.SampleRate, "output_format", p.OutputFormat, "round", p.Round)
}

func (s *Session) handleChunk(ctx context.Context, env *Envelope) {
	if s.state != StateSessionStarted && s.state != StateStreaming {
		s.log.Warn("audio chunk before session start dropped", "state", s.state)
		metrics.FramesDropped.WithLabelValues("not_started").Inc()
		return
	}
	chunk, err := decodeChunk(env.Payload)
	if err != nil {
		s.log.Warn("audio chunk dropped", "error", err)
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return
	}
	s.state = StateStreaming
	if err := s.asr.SendAudio(ctx, chunk); err != nil {
		s.log.Warn("send audio failed, chunk dropped", "error", err, "bytes", len(chunk))
		metrics.FramesDropped.WithLabelValues("asr_send").Inc()
		return
	}
	metrics.AudioInputChunks.Inc()
}

func (s *Session) handleFinish(ctx context.Context) {
	switch s.state {
	case StateIdle:
		s.fail(pipeline.StageProtocol, errors.New("audio_input_finish before start_session"))
		return
	case StateSessionStarted, StateStreaming:
	default:
		s.log.Info("audio_input_finish ignored", "state", s.state)
		return
	}
	s.state = StateFinishing

	text, err := s.transcribe(ctx)
	if err != nil {
		s.fail(pipeline.StageTranscription, err)
		return
	}
	s.log.Info("transcript received", "session_id", s.sc.SessionID, "text_len", len(text))

	_, err = s.cfg.Pipeline.Run(ctx, &s.sc, text, s.forward)
	switch {
	case s.sendErr != nil:
		s.state = StateClosed
	case err != nil:
		var se *pipeline.StageError
		if errors.As(err, &se) {
			s.fail(se.Stage, se.Err)
			return
		}
		s.fail(pipeline.StageCompletion, err)
	default:
		s.state = StateClosed
	}
}

func (s *Session) transcribe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ASRTimeout)
	defer cancel()

	res, err := s.asr.Finish(ctx)
	if err != nil {
		return "", err
	}
	if res.Text == "" {
		return "", pipeline.ErrEmptyTranscript
	}
	return res.Text, nil
}

// forward maps pipeline events onto outgoing frames.
func (s *Session) forward(e pipeline.Event) error {
	var (
		data []byte
		err  error
	)
	switch e.Type {
	case pipeline.EventAudioOutputChunk:
		data, err = audioFrame(e.Audio)
	case pipeline.EventAudioOutputFinished:
		data, err = encodeFrame(TypeAudioOutputFinished, FinishedPayload{SessionID: e.SessionID})
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return s.write(data)
}

// fail sends an error frame and closes the session.
func (s *Session) fail(stage string, err error) {
	s.log.Warn("session failed", "stage", stage, "error", err, "state", s.state)
	metrics.Errors.WithLabelValues(stage, "session").Inc()
	s.emit(TypeError, ErrorPayload{Stage: stage, Message: err.Error()})
	s.state = StateClosed
}

func (s *Session) emit(typ string, payload any) bool {
	data, err := encodeFrame(typ, payload)
	if err != nil {
		s.log.Error("encode frame", "type", typ, "error", err)
		return false
	}
	return s.write(data) == nil
}

func (s *Session) write(data []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	if err := s.send(data); err != nil {
		s.sendErr = err
		s.state = StateClosed
		return err
	}
	return nil
}
