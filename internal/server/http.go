package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faithconnect/voice-gateway/internal/capture"
	"github.com/faithconnect/voice-gateway/internal/config"
	"github.com/faithconnect/voice-gateway/internal/dispatch"
	"github.com/faithconnect/voice-gateway/internal/metrics"
	"github.com/faithconnect/voice-gateway/internal/session"
	"github.com/faithconnect/voice-gateway/internal/transcription"
)

// HTTPServer provides the websocket endpoint plus HTTP APIs for
// monitoring and management
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	sessions    *session.Manager
	engine      *capture.Engine
	dispatcher  *dispatch.Dispatcher
	transcriber *transcription.Client
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP server and wires its routes.
func NewHTTPServer(cfg config.ServerConfig, logger *slog.Logger,
	appConfig *config.Config, sessions *session.Manager, engine *capture.Engine,
	dispatcher *dispatch.Dispatcher, transcriber *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		sessions:    sessions,
		engine:      engine,
		dispatcher:  dispatcher,
		transcriber: transcriber,
		metrics:     m,
		startTime:   time.Now(),
	}

	r := chi.NewRouter()
	h.setupRoutes(r)

	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: r,
		// No WriteTimeout: the websocket endpoint holds its connection
		// open for the session's lifetime.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r chi.Router) {
	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", h.handleWS)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessionStats := h.sessions.GetStats()
	captureStats := h.engine.GetStats()
	dispatchStats := h.dispatcher.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "voice-gateway",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"sessions": map[string]any{
				"status":    "running",
				"active":    sessionStats.ActiveSessions,
				"recording": sessionStats.RecordingSessions,
			},
			"capture": map[string]any{
				"status":               "running",
				"utterances_finalized": captureStats.UtterancesFinalized,
				"failures":             captureStats.CaptureFailures,
			},
			"dispatch": map[string]any{
				"status":        "running",
				"processed":     dispatchStats.Processed,
				"dropped":       dispatchStats.Dropped,
				"active_queues": dispatchStats.ActiveQueues,
			},
		},
	}

	writeJSON(w, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.sessions.Sessions()

	writeJSON(w, map[string]any{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleConfig implements the /config endpoint. Key material and
// credentials never appear in the response.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := map[string]any{
		"server": map[string]any{
			"address":           h.config.Server.Address,
			"port":              h.config.Server.Port,
			"broadcast_results": h.config.Server.BroadcastResults,
		},
		"audio": map[string]any{
			"sample_rate":       h.config.Audio.SampleRate,
			"chunk_duration_ms": h.config.Audio.ChunkDurationMs,
			"device":            h.config.Audio.Device,
		},
		"segmentation": map[string]any{
			"silence_threshold": h.config.Segmentation.SilenceThreshold,
			"silence_duration":  h.config.Segmentation.SilenceDuration,
			"queue_size":        h.config.Segmentation.QueueSize,
		},
		"openai": map[string]any{
			"transcription_model": h.config.OpenAI.TranscriptionModel,
			"analysis_model":      h.config.OpenAI.AnalysisModel,
			"timeout":             h.config.OpenAI.Timeout,
			"cache_size":          h.config.OpenAI.CacheSize,
		},
		"retention": map[string]any{
			"enabled":        h.config.Retention.Enabled,
			"sweep_interval": h.config.Retention.SweepInterval,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitized)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.sessions.GetStats(),
		"capture":   h.engine.GetStats(),
		"dispatch":  h.dispatcher.GetStats(),
	}
	if h.transcriber != nil {
		stats["transcription"] = h.transcriber.GetStats()
	}

	writeJSON(w, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"service": "Voice Gateway",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":         "API documentation",
			"GET /ws":       "Websocket session endpoint",
			"GET /health":   "Service health check",
			"GET /sessions": "List connected sessions",
			"GET /config":   "Get service configuration",
			"GET /stats":    "Get service statistics",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
