package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-relay/internal/audio"
	"github.com/hubenschmidt/voice-relay/internal/metrics"
)

const asrSampleRate = 16000

// ErrEmptyTranscript is returned by Finish when the recognizer heard nothing.
var ErrEmptyTranscript = errors.New("no speech recognized")

// ASROptions describes the audio a client is about to stream.
type ASROptions struct {
	Format     audio.Codec
	SampleRate int
	Language   string
}

// Transcriber opens recognition sessions.
type Transcriber interface {
	Start(ctx context.Context, opts ASROptions) (ASRSession, error)
}

// ASRSession is one open recognition channel. SendAudio may be called many
// times; Finish ends input and blocks until the final transcript is known.
type ASRSession interface {
	SendAudio(ctx context.Context, chunk []byte) error
	Finish(ctx context.Context) (*ASRResult, error)
	Close() error
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// ASRRouter dispatches to the correct ASR backend based on engine name.
type ASRRouter struct {
	*Router[Transcriber]
}

// NewASRRouter creates a router with registered ASR backends and a fallback default.
func NewASRRouter(backends map[string]Transcriber, fallback string) *ASRRouter {
	return &ASRRouter{Router: NewRouter(backends, fallback)}
}

// Start routes to the correct backend and opens a session on it.
func (r *ASRRouter) Start(ctx context.Context, engine string, opts ASROptions) (ASRSession, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Start(ctx, opts)
}

// Close releases backends that hold long-lived connections.
func (r *ASRRouter) Close() error {
	var errs []error
	for _, name := range r.Engines() {
		if c, ok := r.backends[name].(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// WhisperTranscriber buffers a whole utterance and uploads it as multipart WAV
// to a whisper.cpp compatible server on Finish.
type WhisperTranscriber struct {
	url      string
	endpoint string
	client   *http.Client
	gate     audio.SpeechGate
}

// NewWhisperTranscriber creates a client for whisper.cpp (/inference endpoint).
func NewWhisperTranscriber(url string, client *http.Client) *WhisperTranscriber {
	return &WhisperTranscriber{
		url:      strings.TrimRight(url, "/"),
		endpoint: "/inference",
		client:   client,
		gate:     audio.DefaultSpeechGate(),
	}
}

func (w *WhisperTranscriber) Start(_ context.Context, opts ASROptions) (ASRSession, error) {
	if _, err := audio.ParseCodec(string(opts.Format)); err != nil {
		return nil, err
	}
	return &whisperSession{t: w, opts: opts}, nil
}

type whisperSession struct {
	t    *WhisperTranscriber
	opts ASROptions

	mu       sync.Mutex
	samples  []float32
	finished bool
}

func (s *whisperSession) SendAudio(_ context.Context, chunk []byte) error {
	samples, rate, err := audio.Decode(chunk, s.opts.Format, s.opts.SampleRate)
	if err != nil {
		return err
	}
	samples = audio.Resample(samples, rate, asrSampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return io.ErrClosedPipe
	}
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *whisperSession) Finish(ctx context.Context) (*ASRResult, error) {
	s.mu.Lock()
	s.finished = true
	samples := s.samples
	s.samples = nil
	s.mu.Unlock()

	if !s.t.gate.HasSpeech(samples, asrSampleRate) {
		return nil, ErrEmptyTranscript
	}
	return s.t.transcribe(ctx, samples)
}

func (s *whisperSession) Close() error {
	s.mu.Lock()
	s.finished = true
	s.samples = nil
	s.mu.Unlock()
	return nil
}

func (w *WhisperTranscriber) transcribe(ctx context.Context, samples []float32) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+w.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return nil, fmt.Errorf("whisper status %d: %s", resp.StatusCode, respBody)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, ErrEmptyTranscript
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return &ASRResult{Text: text, LatencyMs: float64(latency.Milliseconds())}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, asrSampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("write format field: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
