package ws

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/hubenschmidt/voice-relay/internal/audio"
)

// Frame types on the duplex connection.
const (
	TypeStartSession        = "start_session"
	TypeSessionStarted      = "session_started"
	TypeAudioInputChunk     = "audio_input_chunk"
	TypeAudioInputFinish    = "audio_input_finish"
	TypeAudioOutputChunk    = "audio_output_chunk"
	TypeAudioOutputFinished = "audio_output_finished"
	TypeError               = "error"
)

var outputFormats = []string{"pcm", "wav", "mp3", "opus"}

// Envelope is the textual frame wrapper in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the start_session payload.
type StartPayload struct {
	SessionID        string `json:"session_id"`
	InputFormat      string `json:"input_format"`
	OutputFormat     string `json:"output_format"`
	SampleRate       int    `json:"sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
	Round            int    `json:"round"`
}

// Validate checks the payload and fills defaults.
func (p *StartPayload) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", p.SampleRate)
	}
	if p.OutputSampleRate < 0 {
		return fmt.Errorf("output_sample_rate must not be negative, got %d", p.OutputSampleRate)
	}
	if _, err := audio.ParseCodec(p.InputFormat); err != nil {
		return fmt.Errorf("input_format: %w", err)
	}
	if p.OutputFormat == "" {
		p.OutputFormat = "pcm"
	}
	if !slices.Contains(outputFormats, p.OutputFormat) {
		return fmt.Errorf("unsupported output_format: %s", p.OutputFormat)
	}
	return nil
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// FinishedPayload is the payload of audio_output_finished.
type FinishedPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

type outFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("decode frame: missing type")
	}
	return &env, nil
}

func decodeStart(raw json.RawMessage) (*StartPayload, error) {
	var p StartPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode start_session: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// decodeChunk reads a base64 audio payload, given as a JSON string.
func decodeChunk(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return b, nil
}

func encodeFrame(typ string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal(outFrame{Type: typ, Payload: payload})
}

func audioFrame(b []byte) ([]byte, error) {
	return encodeFrame(TypeAudioOutputChunk, base64.StdEncoding.EncodeToString(b))
}
