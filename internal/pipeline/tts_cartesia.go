package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaDefaultURL = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion    = "2025-04-16"
	cartesiaModel      = "sonic-2"
)

// CartesiaSynthesizer streams synthesis over Cartesia's websocket API, one
// connection per chunk.
type CartesiaSynthesizer struct {
	wsURL   string
	apiKey  string
	voiceID string
	dialer  *websocket.Dialer
}

// NewCartesiaSynthesizer creates a websocket TTS backend. An empty wsURL uses
// the public endpoint.
func NewCartesiaSynthesizer(wsURL, apiKey, voiceID string) *CartesiaSynthesizer {
	if wsURL == "" {
		wsURL = cartesiaDefaultURL
	}
	return &CartesiaSynthesizer{wsURL: wsURL, apiKey: apiKey, voiceID: voiceID, dialer: websocket.DefaultDialer}
}

func (c *CartesiaSynthesizer) NewSession(opts TTSOptions) TTSSession {
	return &cartesiaSession{synth: c, opts: opts}
}

type cartesiaSession struct {
	synth *CartesiaSynthesizer
	opts  TTSOptions
	conn  *websocket.Conn
}

func (s *cartesiaSession) Init(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySynthesisText
	}

	u, err := url.Parse(s.synth.wsURL)
	if err != nil {
		return fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.synth.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := s.synth.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("cartesia connect: %w", err)
	}

	req := cartesiaRequest{
		ModelID:      cartesiaModel,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: pickVoice(s.opts.Voice, s.synth.voiceID)},
		OutputFormat: cartesiaFormat(s.opts),
		ContextID:    uuid.NewString(),
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("cartesia send request: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *cartesiaSession) StreamSynthesize(ctx context.Context, onFrame FrameCallback) error {
	if s.conn == nil {
		return ErrEmptySynthesisText
	}
	conn := s.conn
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg cartesiaResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("cartesia read: %w", err)
		}

		switch msg.Type {
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if msg.Done {
				return onFrame(AudioFrame{Audio: data, Last: true})
			}
			if err := onFrame(AudioFrame{Audio: data}); err != nil {
				return err
			}
		case "done":
			return onFrame(AudioFrame{Last: true})
		case "error":
			return fmt.Errorf("cartesia error: %s", msg.Error)
		}
	}
}

func cartesiaFormat(opts TTSOptions) cartesiaOutputFormat {
	rate := opts.SampleRate
	if rate == 0 {
		rate = 24000
	}
	switch opts.Format {
	case "mp3":
		return cartesiaOutputFormat{Container: "mp3", SampleRate: rate, BitRate: 128000}
	case "wav":
		return cartesiaOutputFormat{Container: "wav", Encoding: "pcm_s16le", SampleRate: rate}
	default:
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: rate}
	}
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaResponse struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}
