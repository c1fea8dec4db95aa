// Command server boots the media routing and turn-taking HTTP/WebSocket
// server: it loads configuration, builds the process-wide model engines,
// and mounts the public API surface on a gin engine.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/genai"

	"github.com/turnrtc/turnrtc/internal/api"
	"github.com/turnrtc/turnrtc/internal/app"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/config"
	"github.com/turnrtc/turnrtc/internal/session"
	"github.com/turnrtc/turnrtc/internal/stopword"
	"github.com/turnrtc/turnrtc/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying defaults/env")
	vadModelPath := flag.String("vad-model", "models/silero_vad.onnx", "path to the Silero VAD ONNX model")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	engines, err := buildEngines(logger, *vadModelPath)
	if err != nil {
		logger.Errorw("engine init failed", "error", err.Error())
		os.Exit(1)
	}

	sessions := session.NewManager(logger, cfg)
	defer sessions.CloseAll()

	reg := registerHandler()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.Mount(engine, logger, cfg, sessions, reg, engines)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: engine}

	go func() {
		logger.Infow("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("server stopped", "error", err.Error())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err.Error())
	}
}

// buildEngines constructs the process-wide VAD and transcriber singletons
// (design notes §9). The transcriber is only wired when a Gemini API key
// is present in the environment; deployments that never register a
// ReplyOnStopwords handler can omit it entirely.
func buildEngines(logger commons.Logger, vadModelPath string) (app.Engines, error) {
	vadEngine, err := vad.NewSileroEngine(vad.ModelConfig{
		ModelPath:            vadModelPath,
		SampleRate:           vad.NativeSampleRate,
		Threshold:            0.5,
		MinSpeechDurationMs:  250,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return app.Engines{}, err
	}

	var transcriber stopword.Transcriber
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			logger.Warnw("genai client init failed, stopword detection disabled", "error", err.Error())
		} else {
			transcriber = stopword.NewGenAITranscriber(client, "")
		}
	}

	return app.Engines{VAD: vadEngine, Transcriber: transcriber}, nil
}
