package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"

	"github.com/hubenschmidt/voice-relay/internal/config"
	"github.com/hubenschmidt/voice-relay/internal/pipeline"
	"github.com/hubenschmidt/voice-relay/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env,
		"asr_engine", cfg.ASREngine, "llm_engine", cfg.LLMEngine, "tts_engine", cfg.TTSEngine)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	runServer(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func runServer(cfg *config.Config, injector do.Injector) {
	e, err := do.Invoke[*echo.Echo](injector)
	if err != nil {
		slog.Error("failed to build http server", "error", err)
		os.Exit(1)
	}

	addr := ":" + cfg.Port
	go func() {
		slog.Info("relay starting", "addr", addr, "max_concurrent", cfg.MaxConcurrentSessions)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if bg, err := do.Invoke[*pipeline.Background](injector); err == nil {
		if err := bg.Wait(ctx); err != nil {
			slog.Warn("background tasks still running at shutdown", "error", err)
		}
	}
	if asr, err := do.Invoke[*pipeline.ASRRouter](injector); err == nil {
		if err := asr.Close(); err != nil {
			slog.Warn("recognizer close", "error", err)
		}
	}
	if st, err := do.Invoke[store.Store](injector); err == nil {
		if err := st.Close(); err != nil {
			slog.Warn("store close", "error", err)
		}
	}
	slog.Info("relay stopped")
}
