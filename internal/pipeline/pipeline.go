package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/voice-relay/internal/metrics"
	"github.com/hubenschmidt/voice-relay/internal/notify"
	"github.com/hubenschmidt/voice-relay/internal/store"
)

// Stage names reported in StageError and error frames.
const (
	StageStart         = "start"
	StageTranscription = "transcription"
	StageRole          = "role"
	StageCompletion    = "completion"
	StageProtocol      = "protocol"
)

const titleMaxTokens = 32

// Config holds pipeline configuration. It is built once at startup and
// shared read-only by every connection.
type Config struct {
	Store      store.ConversationStore
	LLM        *LLMRouter
	LLMEngine  string
	TTS        *TTSRouter
	TTSEngine  string
	TTSOptions TTSOptions
	Notifier   notify.Publisher
	Background *Background

	MaxTokens         int
	HistoryTurns      int
	CompletionTimeout time.Duration
	SynthesisTimeout  time.Duration
}

// SessionContext is the per-connection conversation state. It has a single
// writer: the connection's task, which passes it into each Run.
type SessionContext struct {
	SessionID string
	UserID    string
	RoleID    string
	DeviceID  string

	// Requested output audio; zero values keep the configured defaults.
	OutputFormat     string
	OutputSampleRate int
}

// EventType names an outgoing pipeline event.
type EventType string

const (
	EventAudioOutputChunk    EventType = "audio_output_chunk"
	EventAudioOutputFinished EventType = "audio_output_finished"
)

// Event is one outgoing item of a Run, in client delivery order.
type Event struct {
	Type      EventType
	Audio     []byte
	SessionID string
}

// EventCallback delivers an event to the client. An error means the client
// can no longer be reached and aborts the run.
type EventCallback func(Event) error

// StageError marks an engine failure that aborts a turn and is reported to
// the client.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// ErrRoleNotFound is returned when the session's role does not exist.
var ErrRoleNotFound = errors.New("role not found")

// Result summarizes a completed Run.
type Result struct {
	SessionID string
	FirstTurn bool
	Reply     string
	Segments  int
	Skipped   int
}

// Pipeline drives one turn: completion, side effects, segmentation, synthesis.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline with explicit configuration.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run answers userText within sc's session and streams the spoken reply
// through onEvent. sc.SessionID is replaced when a new session is started,
// once the completion has succeeded. No synthesis starts before the
// completion returns; when it fails nothing is persisted.
func (p *Pipeline) Run(ctx context.Context, sc *SessionContext, userText string, onEvent EventCallback) (*Result, error) {
	start := time.Now()
	sessionID, first := p.resolveSession(ctx, sc)
	log := slog.With("session_id", sessionID, "user_id", sc.UserID, "role_id", sc.RoleID, "first_turn", first)

	role, err := p.cfg.Store.LoadRole(ctx, sc.RoleID)
	if errors.Is(err, store.ErrNotFound) {
		err = ErrRoleNotFound
	}
	if err != nil {
		metrics.Errors.WithLabelValues(StageRole, errorType(err)).Inc()
		return nil, &StageError{Stage: StageRole, Err: err}
	}

	var history []store.Turn
	if !first {
		history, err = p.cfg.Store.LoadRecentTurns(ctx, sessionID, p.cfg.HistoryTurns)
		if err != nil {
			log.Warn("load history failed, continuing without context", "error", err)
			history = nil
		}
	}

	reply, err := p.complete(ctx, BuildMessages(role.Prompt, history, userText), p.cfg.MaxTokens, "llm")
	if err != nil {
		return nil, &StageError{Stage: StageCompletion, Err: err}
	}
	log.Info("completion received", "reply_len", len(reply), "history", len(history))
	sc.SessionID = sessionID

	p.dispatchSideEffects(ctx, *sc, first, role.Prompt, userText, reply)

	res := &Result{SessionID: sessionID, FirstTurn: first, Reply: reply}
	if err := p.speak(ctx, *sc, reply, role.VoiceID, start, res, onEvent); err != nil {
		return res, err
	}
	log.Info("turn complete", "segments", res.Segments, "skipped", res.Skipped, "elapsed", time.Since(start))
	return res, nil
}

// resolveSession keeps sc.SessionID only when it names a stored session of
// the same user and role, otherwise it allocates a new id. The bool reports
// whether the id is new.
func (p *Pipeline) resolveSession(ctx context.Context, sc *SessionContext) (string, bool) {
	if sc.SessionID == "" {
		return uuid.NewString(), true
	}
	existing, err := p.cfg.Store.LoadSession(ctx, sc.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("unknown session id, starting new session", "session_id", sc.SessionID)
	case err != nil:
		slog.Warn("load session failed, starting new session", "session_id", sc.SessionID, "error", err)
	case existing.RoleID != sc.RoleID || existing.UserID != sc.UserID:
		slog.Info("role changed, starting new session", "session_id", sc.SessionID, "old_role", existing.RoleID, "new_role", sc.RoleID)
	default:
		return sc.SessionID, false
	}
	return uuid.NewString(), true
}

func (p *Pipeline) complete(ctx context.Context, msgs []Message, maxTokens int, stage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CompletionTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.cfg.LLM.Complete(ctx, p.cfg.LLMEngine, msgs, maxTokens)
	if err != nil {
		metrics.Errors.WithLabelValues(stage, errorType(err)).Inc()
		return "", err
	}
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return res.Text, nil
}

// dispatchSideEffects fires persistence, notification and title generation.
// None of them is awaited. The title write waits for the session insert to
// settle so it never races the row creation.
func (p *Pipeline) dispatchSideEffects(ctx context.Context, sc SessionContext, first bool, rolePrompt, userText, reply string) {
	bg := p.cfg.Background
	now := time.Now().UTC()

	sessionWritten := make(chan struct{})
	if first {
		sess := &store.Session{SessionID: sc.SessionID, UserID: sc.UserID, RoleID: sc.RoleID, CreatedAt: now}
		ok := bg.Go(ctx, "insert_session", func(ctx context.Context) error {
			defer close(sessionWritten)
			return p.cfg.Store.InsertSession(ctx, sess)
		})
		if !ok {
			close(sessionWritten)
		}
	}

	turn := &store.Turn{
		TurnID:           uuid.NewString(),
		SessionID:        sc.SessionID,
		UserMessage:      userText,
		AssistantMessage: reply,
		CreatedAt:        now,
	}
	bg.Go(ctx, "insert_turn", func(ctx context.Context) error {
		return p.cfg.Store.InsertTurn(ctx, turn)
	})

	if sc.DeviceID != "" {
		bg.Go(ctx, "notify", func(ctx context.Context) error {
			payload, err := notify.ChatPayload(userText, reply)
			if err != nil {
				return err
			}
			return p.cfg.Notifier.Publish(ctx, notify.ChatTopic(sc.DeviceID), payload)
		})
	}

	if first {
		bg.Go(ctx, "title", func(ctx context.Context) error {
			return p.generateTitle(ctx, sc.SessionID, rolePrompt, userText, reply, sessionWritten)
		})
	}
}

func (p *Pipeline) generateTitle(ctx context.Context, sessionID, rolePrompt, userText, reply string, sessionWritten <-chan struct{}) error {
	raw, err := p.complete(ctx, BuildTitleMessages(rolePrompt, userText, reply), titleMaxTokens, "title")
	if err != nil {
		return fmt.Errorf("title completion: %w", err)
	}
	title := CleanTitle(raw)
	if title == "" {
		return errors.New("title completion returned empty text")
	}

	select {
	case <-sessionWritten:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.cfg.Store.UpdateSessionTitle(ctx, sessionID, title)
}

// emitError wraps a client delivery failure so it is not mistaken for a
// synthesis failure.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// speak synthesizes reply segment by segment, strictly in order. A failed
// segment is skipped; the finished event is always sent after the last one.
func (p *Pipeline) speak(ctx context.Context, sc SessionContext, reply, voice string, start time.Time, res *Result, onEvent EventCallback) error {
	sessionID := sc.SessionID
	opts := p.cfg.TTSOptions
	if voice != "" {
		opts.Voice = voice
	}
	if sc.OutputFormat != "" {
		opts.Format = sc.OutputFormat
	}
	if sc.OutputSampleRate > 0 {
		opts.SampleRate = sc.OutputSampleRate
	}

	firstAudio := true
	emit := func(e Event) error {
		if e.Type == EventAudioOutputChunk && firstAudio {
			firstAudio = false
			metrics.E2EDuration.Observe(time.Since(start).Seconds())
		}
		if err := onEvent(e); err != nil {
			return &emitError{err: err}
		}
		return nil
	}

	for seg := range Segments(reply) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seg.Text != "" {
			err := p.synthesize(ctx, seg.Text, opts, emit)
			var ee *emitError
			switch {
			case errors.As(err, &ee):
				return ee.err
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				res.Skipped++
				metrics.Segments.WithLabelValues("skipped").Inc()
				metrics.Errors.WithLabelValues("tts", errorType(err)).Inc()
				slog.Warn("synthesis failed, skipping segment", "session_id", sessionID, "segment", seg.Text, "error", err)
			default:
				res.Segments++
				metrics.Segments.WithLabelValues("synthesized").Inc()
			}
		}
		if seg.Last {
			if err := emit(Event{Type: EventAudioOutputFinished, SessionID: sessionID}); err != nil {
				return err.(*emitError).err
			}
		}
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, text string, opts TTSOptions, emit EventCallback) error {
	sess, err := p.cfg.TTS.NewSession(p.cfg.TTSEngine, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	if err := sess.Init(ctx, text); err != nil {
		return fmt.Errorf("tts init: %w", err)
	}
	err = sess.StreamSynthesize(ctx, func(f AudioFrame) error {
		if len(f.Audio) == 0 {
			return nil
		}
		metrics.AudioOutputChunks.Inc()
		return emit(Event{Type: EventAudioOutputChunk, Audio: f.Audio})
	})
	if err != nil {
		return err
	}
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return nil
}
