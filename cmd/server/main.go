package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/faithconnect/voice-gateway/internal/analysis"
	"github.com/faithconnect/voice-gateway/internal/audio"
	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/capture"
	"github.com/faithconnect/voice-gateway/internal/config"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/dispatch"
	"github.com/faithconnect/voice-gateway/internal/envelope"
	"github.com/faithconnect/voice-gateway/internal/metrics"
	"github.com/faithconnect/voice-gateway/internal/server"
	"github.com/faithconnect/voice-gateway/internal/session"
	"github.com/faithconnect/voice-gateway/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-gateway"
	serviceVersion    = "1.0.0"
)

// pipelineSink connects the capture engine to the dispatcher and the
// session manager.
type pipelineSink struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	metrics    *metrics.Metrics
}

func (p *pipelineSink) UtteranceReady(u *capture.Utterance) {
	p.metrics.RecordUtteranceFinalized(u.Duration().Seconds(), len(u.Chunks))
	p.dispatcher.Enqueue(u)
}

func (p *pipelineSink) CaptureFailed(sessionID string, err error) {
	p.sessions.RecordingFailed(sessionID, err)
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Optional; credentials may come from the real environment instead.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("broadcast_results", cfg.Server.BroadcastResults),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_duration_ms", cfg.Audio.ChunkDurationMs),
		slog.String("device", cfg.Audio.Device),
		slog.Float64("silence_threshold", cfg.Segmentation.SilenceThreshold),
		slog.Float64("silence_duration", cfg.Segmentation.SilenceDuration),
		slog.Bool("retention_enabled", cfg.Retention.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Key material and the audit trail are the only startup failures that
	// are fatal; everything after this degrades per session instead.
	env, err := envelope.Open(cfg.Security.KeyFile)
	if err != nil {
		logger.Error("Failed to open session key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditLog, err := audit.Open(cfg.Security.AuditLog, logger)
	if err != nil {
		logger.Error("Failed to open audit log", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriber, err := transcription.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.TranscriptionModel, cfg.OpenAI.GetTimeoutDuration())
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	analyzer, err := analysis.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.AnalysisModel, cfg.OpenAI.GetTimeoutDuration())
	if err != nil {
		logger.Error("Failed to create analysis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	ledger := consent.NewLedger()

	engine := capture.NewEngine(capture.Config{
		SampleRate:       cfg.Audio.SampleRate,
		ChunkDuration:    cfg.Audio.GetChunkDuration(),
		SilenceThreshold: cfg.Segmentation.SilenceThreshold,
		SilenceDuration:  cfg.Segmentation.GetSilenceDuration(),
	}, env, deviceFactory(cfg.Audio), logger)

	sessions := session.NewManager(engine, ledger, auditLog, appMetrics, logger, cfg.Server.BroadcastResults)

	var store *dispatch.ArtifactStore
	if cfg.Retention.Enabled {
		store, err = dispatch.NewArtifactStore(cfg.Retention.ArtifactDir, cfg.Retention.GetSweepInterval(), env, ledger, auditLog, logger)
		if err != nil {
			logger.Error("Failed to create artifact store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store.Start()
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		QueueSize: cfg.Segmentation.QueueSize,
		CacheSize: cfg.OpenAI.CacheSize,
	}, dispatch.Deps{
		Envelope:    env,
		Ledger:      ledger,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Publisher:   sessions,
		Audit:       auditLog,
		Store:       store,
		Metrics:     appMetrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create dispatcher", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine.SetSink(&pipelineSink{dispatcher: dispatcher, sessions: sessions, metrics: appMetrics})
	sessions.SetDisconnectHook(dispatcher.DropSession)

	httpServer := server.NewHTTPServer(cfg.Server, logger, cfg, sessions, engine, dispatcher, transcriber, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_endpoint", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop accepting connections first, then unwind the pipeline from the
	// session side down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	sessions.CloseAll()
	engine.StopAll()
	dispatcher.Close()
	if store != nil {
		store.Stop()
	}

	sessionStats := sessions.GetStats()
	captureStats := engine.GetStats()
	dispatchStats := dispatcher.GetStats()
	logger.Info("Final statistics",
		slog.Uint64("sessions_connected", sessionStats.TotalConnected),
		slog.Uint64("utterances_finalized", captureStats.UtterancesFinalized),
		slog.Uint64("utterances_processed", dispatchStats.Processed),
		slog.Uint64("utterances_dropped", dispatchStats.Dropped),
		slog.Uint64("audit_events", auditLog.Count()),
	)

	auditLog.Close()
	logger.Info("Service stopped")
}

// deviceFactory returns the capture device opener for the configured
// source.
func deviceFactory(cfg config.AudioConfig) capture.DeviceFactory {
	switch cfg.Device {
	case "wav":
		return func() (audio.Device, error) {
			return audio.NewWAVFileDevice(cfg.WAVPath, cfg.GetChunkDuration()), nil
		}
	default:
		return func() (audio.Device, error) {
			return audio.NewCommandDevice(cfg.CaptureCommand), nil
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
