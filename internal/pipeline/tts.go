package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const ttsFrameSize = 4096

// ErrEmptySynthesisText is returned by Init for blank chunks.
var ErrEmptySynthesisText = errors.New("nothing to synthesize")

// TTSOptions holds per-session synthesis parameters.
type TTSOptions struct {
	Voice      string
	Format     string
	SampleRate int
	Speed      float64
}

// AudioFrame is one piece of synthesized audio. Last marks the final frame of
// the chunk being synthesized.
type AudioFrame struct {
	Audio []byte
	Last  bool
}

// FrameCallback receives frames in production order. Returning an error
// stops the stream.
type FrameCallback func(AudioFrame) error

// Synthesizer creates one TTSSession per text chunk.
type Synthesizer interface {
	NewSession(opts TTSOptions) TTSSession
}

// TTSSession synthesizes a single chunk: Init prepares the request and
// StreamSynthesize delivers its audio progressively.
type TTSSession interface {
	Init(ctx context.Context, text string) error
	StreamSynthesize(ctx context.Context, onFrame FrameCallback) error
}

// TTSRouter dispatches to the correct TTS backend based on engine name.
type TTSRouter struct {
	*Router[Synthesizer]
}

// NewTTSRouter creates a router with registered TTS backends and a fallback default.
func NewTTSRouter(backends map[string]Synthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// NewSession routes to the correct backend and opens a session on it.
func (r *TTSRouter) NewSession(engine string, opts TTSOptions) (TTSSession, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.NewSession(opts), nil
}

// requestBuilder turns chunk text into an HTTP request for one backend.
type requestBuilder func(ctx context.Context, text string, opts TTSOptions) (*http.Request, error)

// httpSynthesizer covers every backend whose audio arrives as a streamed
// HTTP response body.
type httpSynthesizer struct {
	label  string
	build  requestBuilder
	client *http.Client
}

func (h *httpSynthesizer) NewSession(opts TTSOptions) TTSSession {
	return &httpTTSSession{synth: h, opts: opts}
}

type httpTTSSession struct {
	synth *httpSynthesizer
	opts  TTSOptions
	text  string
}

func (s *httpTTSSession) Init(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySynthesisText
	}
	s.text = text
	return nil
}

func (s *httpTTSSession) StreamSynthesize(ctx context.Context, onFrame FrameCallback) error {
	if s.text == "" {
		return ErrEmptySynthesisText
	}
	req, err := s.synth.build(ctx, s.text, s.opts)
	if err != nil {
		return fmt.Errorf("create %s request: %w", s.synth.label, err)
	}

	resp, err := s.synth.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", s.synth.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s status %d: %s", s.synth.label, resp.StatusCode, body)
	}
	return streamFrames(resp.Body, ttsFrameSize, onFrame)
}

// streamFrames reads r in frames of up to size bytes, holding one frame back
// so the final one can be flagged Last.
func streamFrames(r io.Reader, size int, onFrame FrameCallback) error {
	pending := make([]byte, 0, size)
	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if len(pending) > 0 {
				if cbErr := onFrame(AudioFrame{Audio: pending}); cbErr != nil {
					return cbErr
				}
			}
			pending = append(make([]byte, 0, size), buf[:n]...)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return onFrame(AudioFrame{Audio: pending, Last: true})
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

func jsonRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func pickVoice(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// --- Piper backend (local neural TTS) ---

func NewPiperSynthesizer(url, voice string, client *http.Client) Synthesizer {
	url = strings.TrimRight(url, "/")
	return &httpSynthesizer{
		label:  "piper",
		client: client,
		build: func(ctx context.Context, text string, opts TTSOptions) (*http.Request, error) {
			return jsonRequest(ctx, url+"/synthesize", struct {
				Text  string `json:"text"`
				Voice string `json:"voice"`
			}{Text: text, Voice: pickVoice(opts.Voice, voice)})
		},
	}
}

// --- OpenAI-compatible backend (any server exposing /v1/audio/speech) ---

func NewOpenAISynthesizer(url, apiKey, model, voice string, client *http.Client) Synthesizer {
	url = strings.TrimRight(url, "/")
	return &httpSynthesizer{
		label:  "openai-tts",
		client: client,
		build: func(ctx context.Context, text string, opts TTSOptions) (*http.Request, error) {
			req, err := jsonRequest(ctx, url+"/v1/audio/speech", struct {
				Input          string  `json:"input"`
				Model          string  `json:"model"`
				Voice          string  `json:"voice"`
				Speed          float64 `json:"speed,omitempty"`
				ResponseFormat string  `json:"response_format"`
			}{Input: text, Model: model, Voice: pickVoice(opts.Voice, voice), Speed: opts.Speed, ResponseFormat: openAIResponseFormat(opts.Format)})
			if err != nil {
				return nil, err
			}
			if apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			}
			return req, nil
		},
	}
}

func openAIResponseFormat(format string) string {
	switch format {
	case "mp3", "wav", "opus":
		return format
	default:
		return "pcm"
	}
}

// --- ElevenLabs backend (cloud streaming endpoint) ---

func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) Synthesizer {
	return &httpSynthesizer{
		label:  "elevenlabs",
		client: client,
		build: func(ctx context.Context, text string, opts TTSOptions) (*http.Request, error) {
			url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s/stream?output_format=%s",
				pickVoice(opts.Voice, voiceID), elevenLabsOutputFormat(opts))
			req, err := jsonRequest(ctx, url, struct {
				Text    string `json:"text"`
				ModelID string `json:"model_id"`
			}{Text: text, ModelID: modelID})
			if err != nil {
				return nil, err
			}
			req.Header.Set("xi-api-key", apiKey)
			return req, nil
		},
	}
}

func elevenLabsOutputFormat(opts TTSOptions) string {
	if opts.Format == "mp3" {
		return "mp3_44100_128"
	}
	rate := opts.SampleRate
	switch rate {
	case 16000, 22050, 24000, 44100:
	default:
		rate = 16000
	}
	return fmt.Sprintf("pcm_%d", rate)
}
