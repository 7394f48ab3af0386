package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"

	"github.com/hubenschmidt/voice-relay/internal/api"
	"github.com/hubenschmidt/voice-relay/internal/config"
	"github.com/hubenschmidt/voice-relay/internal/notify"
	"github.com/hubenschmidt/voice-relay/internal/pipeline"
	"github.com/hubenschmidt/voice-relay/internal/store"
	"github.com/hubenschmidt/voice-relay/internal/ws"
)

const (
	databaseInitTimeout = 15 * time.Second
	engineHTTPTimeout   = 60 * time.Second
	notifyHTTPTimeout   = 10 * time.Second
)

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	registerStore(injector)
	registerEngines(injector)
	registerPipeline(injector)
	registerHTTP(injector)

	return injector
}

func registerStore(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (store.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		slog.Info("store ready", "postgres", store.IsPostgres(cfg.DatabaseURL))
		return st, nil
	})
}

func registerEngines(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pipeline.ASRRouter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, engineHTTPTimeout)

		backends := map[string]pipeline.Transcriber{
			"whisper": pipeline.NewWhisperTranscriber(cfg.WhisperURL, client),
		}
		if cfg.GoogleCloudProjectID != "" {
			backends["cloudspeech"] = pipeline.NewCloudSpeechTranscriber(pipeline.CloudSpeechConfig{
				ProjectID:       cfg.GoogleCloudProjectID,
				CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
				Location:        cfg.GoogleCloudSpeechLocation,
				Model:           cfg.GoogleCloudSpeechModel,
				Language:        cfg.ASRLanguage,
			})
		}
		return pipeline.NewASRRouter(backends, cfg.ASREngine), nil
	})

	do.Provide(injector, func(i do.Injector) (*pipeline.LLMRouter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, engineHTTPTimeout)

		backends := map[string]pipeline.Completer{
			"ollama": pipeline.NewOllamaLLMClient(cfg.OllamaURL, cfg.OllamaModel, client),
		}
		if cfg.LLMAPIKey != "" {
			backends["openai"] = pipeline.NewOpenAIChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, client)
			backends["agent"] = pipeline.NewAgentChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		}
		if cfg.GeminiAPIKey != "" {
			gemini, err := pipeline.NewGeminiChatClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, "")
			if err != nil {
				return nil, fmt.Errorf("failed to create gemini client: %w", err)
			}
			backends["gemini"] = gemini
		}
		return pipeline.NewLLMRouter(backends, cfg.LLMEngine), nil
	})

	do.Provide(injector, func(i do.Injector) (*pipeline.TTSRouter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, engineHTTPTimeout)

		backends := map[string]pipeline.Synthesizer{}
		switch cfg.TTSEngine {
		case "openai":
			backends["openai"] = pipeline.NewOpenAISynthesizer(cfg.TTSURL, cfg.TTSAPIKey, cfg.TTSModel, cfg.TTSVoice, client)
		case "piper":
			backends["piper"] = pipeline.NewPiperSynthesizer(cfg.TTSURL, cfg.TTSVoice, client)
		case "elevenlabs":
			backends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.TTSAPIKey, cfg.TTSVoice, cfg.TTSModel, client)
		}
		if cfg.CartesiaAPIKey != "" {
			backends["cartesia"] = pipeline.NewCartesiaSynthesizer(cfg.CartesiaURL, cfg.CartesiaAPIKey, cfg.CartesiaVoiceID)
		}
		return pipeline.NewTTSRouter(backends, cfg.TTSEngine), nil
	})

	do.Provide(injector, func(i do.Injector) (notify.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, notifyHTTPTimeout)
		return notify.NewEMQXPublisher(cfg.MQTTAPIURL, cfg.MQTTAPIKey, cfg.MQTTAPISecret, client), nil
	})
}

func registerPipeline(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pipeline.Background, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return pipeline.NewBackground(cfg.SideEffectTimeout), nil
	})

	do.Provide(injector, func(i do.Injector) (*pipeline.Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return pipeline.New(pipeline.Config{
			Store:             do.MustInvoke[store.Store](i),
			LLM:               do.MustInvoke[*pipeline.LLMRouter](i),
			LLMEngine:         cfg.LLMEngine,
			TTS:               do.MustInvoke[*pipeline.TTSRouter](i),
			TTSEngine:         cfg.TTSEngine,
			TTSOptions:        pipeline.TTSOptions{Voice: cfg.TTSVoice, Format: "pcm", SampleRate: 16000},
			Notifier:          do.MustInvoke[notify.Publisher](i),
			Background:        do.MustInvoke[*pipeline.Background](i),
			MaxTokens:         cfg.LLMMaxTokens,
			HistoryTurns:      cfg.HistoryTurns,
			CompletionTimeout: cfg.CompletionTimeout,
			SynthesisTimeout:  cfg.SynthesisTimeout,
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*ws.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return ws.NewHandler(ws.HandlerConfig{
			Session: ws.SessionConfig{
				ASR:        do.MustInvoke[*pipeline.ASRRouter](i),
				ASREngine:  cfg.ASREngine,
				Language:   cfg.ASRLanguage,
				Pipeline:   do.MustInvoke[*pipeline.Pipeline](i),
				ASRTimeout: cfg.ASRTimeout,
			},
			Roles:         do.MustInvoke[store.Store](i),
			DefaultRoleID: cfg.DefaultRoleID,
			MaxConcurrent: cfg.MaxConcurrentSessions,
			MaxFrameBytes: cfg.MaxFrameBytes,
			LingerDelay:   cfg.LingerDelay,
		}), nil
	})
}

func registerHTTP(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*echo.Echo, error) {
		st := do.MustInvoke[store.Store](i)
		h := api.NewHandler(st, st, do.MustInvoke[*ws.Handler](i), map[string]api.Engines{
			"asr": do.MustInvoke[*pipeline.ASRRouter](i),
			"llm": do.MustInvoke[*pipeline.LLMRouter](i),
			"tts": do.MustInvoke[*pipeline.TTSRouter](i),
		})

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				slog.Info("http request", "method", v.Method, "uri", v.URI, "status", v.Status,
					"latency", v.Latency, "error", v.Error)
				return nil
			},
		}))
		h.RegisterRoutes(e)
		return e, nil
	})
}
