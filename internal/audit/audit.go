package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Audit actions recorded by the service.
const (
	ActionSessionConnected    = "session_connected"
	ActionSessionDisconnected = "session_disconnected"
	ActionTransportError      = "transport_error"

	ActionConsentUpdated = "consent_updated"

	ActionRecordingStarted = "recording_started"
	ActionRecordingStopped = "recording_stopped"
	ActionRecordingDenied  = "recording_denied"
	ActionCaptureError     = "capture_error"

	ActionCryptoError         = "crypto_error"
	ActionIntegrityError      = "integrity_error"
	ActionTranscriptionDenied = "transcription_denied"
	ActionTranscriptionError  = "transcription_error"
	ActionAnalysisDenied      = "analysis_denied"
	ActionAnalysisError       = "analysis_error"
	ActionProcessingCompleted = "processing_completed"
	ActionResultDiscarded     = "result_discarded"
	ActionQueueOverflow       = "queue_overflow"

	ActionArtifactStored = "artifact_stored"
	ActionArtifactPurged = "artifact_purged"
)

// Event is a single audit trail entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	SessionID string         `json:"session_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger serializes audit events to a writer, one JSON object per line.
// Write failures are reported through the structured logger and never
// propagated: an audit hiccup must not break the pipeline it observes.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *slog.Logger
	events uint64
}

// Open creates a Logger appending to the file at path, creating it with
// mode 0600 on first run.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}

	l := New(f, logger)
	l.closer = f
	return l, nil
}

// New creates a Logger over an arbitrary writer.
func New(w io.Writer, logger *slog.Logger) *Logger {
	return &Logger{w: w, logger: logger}
}

// Record appends one event to the trail, stamping the current time.
func (l *Logger) Record(action, sessionID string, detail map[string]any) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		SessionID: sessionID,
		Detail:    detail,
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to encode audit event",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write audit event",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return
	}

	l.events++
}

// Count returns the number of events successfully written.
func (l *Logger) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.events
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}

	return l.closer.Close()
}
