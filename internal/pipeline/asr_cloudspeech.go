package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/hubenschmidt/voice-relay/internal/audio"
	"github.com/hubenschmidt/voice-relay/internal/metrics"
)

const speechAPIEndpointPort = 443

// CloudSpeechConfig configures the Google Cloud Speech v2 streaming backend.
type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
	Language        string
}

// CloudSpeechTranscriber streams audio to Cloud Speech v2 as it arrives.
// One client is shared by all sessions; each session opens its own stream.
type CloudSpeechTranscriber struct {
	cfg  CloudSpeechConfig
	dial func(ctx context.Context) (*speech.Client, error)

	mu     sync.Mutex
	client *speech.Client
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	t := &CloudSpeechTranscriber{cfg: cfg}
	t.dial = t.dialDefault
	return t
}

func (t *CloudSpeechTranscriber) dialDefault(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	clientOpts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.cfg.Location != "global" {
		clientOpts = append(clientOpts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.cfg.Location, speechAPIEndpointPort)))
	}
	return speech.NewClient(ctx, clientOpts...)
}

// speechClient returns the shared client, dialing it on first use. A failed
// dial is retried by the next session.
func (t *CloudSpeechTranscriber) speechClient(ctx context.Context) (*speech.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	client, err := t.dial(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("cloud speech client: %w", err)
	}
	slog.Info("cloud speech client ready", "location", t.cfg.Location, "model", t.cfg.Model)
	t.client = client
	return client, nil
}

// Close releases the shared client.
func (t *CloudSpeechTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *CloudSpeechTranscriber) Start(ctx context.Context, opts ASROptions) (ASRSession, error) {
	if _, err := audio.ParseCodec(string(opts.Format)); err != nil {
		return nil, err
	}
	language := opts.Language
	if language == "" {
		language = t.cfg.Language
	}

	client, err := t.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	// The stream outlives the Start call; it is torn down by Finish or Close.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open recognize stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.cfg.ProjectID, t.cfg.Location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.cfg.Model,
					LanguageCodes: []string{language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   asrSampleRate,
							AudioChannelCount: 1,
						},
					},
					Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
				},
			},
		},
	})
	if err != nil {
		_ = stream.CloseSend()
		cancel()
		return nil, fmt.Errorf("send recognition config: %w", err)
	}

	s := &cloudSpeechSession{
		opts:   opts,
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
		start:  time.Now(),
	}
	go s.receive()
	return s, nil
}

type cloudSpeechSession struct {
	opts   ASROptions
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	start  time.Time

	mu     sync.Mutex
	closed bool

	done    chan struct{}
	finals  []string
	recvErr error
}

func (s *cloudSpeechSession) SendAudio(_ context.Context, chunk []byte) error {
	samples, rate, err := audio.Decode(chunk, s.opts.Format, s.opts.SampleRate)
	if err != nil {
		return err
	}
	pcm := audio.EncodePCM16(audio.Resample(samples, rate, asrSampleRate))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
	})
}

// receive collects final results until the server ends the stream.
func (s *cloudSpeechSession) receive() {
	defer close(s.done)
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.recvErr = err
			return
		}
		for _, result := range resp.GetResults() {
			if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
				continue
			}
			s.finals = append(s.finals, result.GetAlternatives()[0].GetTranscript())
		}
	}
}

func (s *cloudSpeechSession) Finish(ctx context.Context) (*ASRResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	s.closed = true
	err := s.stream.CloseSend()
	s.mu.Unlock()
	defer s.teardown()

	if err != nil {
		return nil, fmt.Errorf("close recognize stream: %w", err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		metrics.Errors.WithLabelValues("asr", "timeout").Inc()
		return nil, ctx.Err()
	}
	if s.recvErr != nil {
		metrics.Errors.WithLabelValues("asr", "stream").Inc()
		return nil, fmt.Errorf("cloud speech: %w", s.recvErr)
	}

	text := strings.TrimSpace(strings.Join(s.finals, ""))
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	latency := time.Since(s.start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())
	return &ASRResult{Text: text, LatencyMs: float64(latency.Milliseconds())}, nil
}

func (s *cloudSpeechSession) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}
	_ = s.stream.CloseSend()
	s.teardown()
	return nil
}

func (s *cloudSpeechSession) teardown() {
	s.cancel()
}
