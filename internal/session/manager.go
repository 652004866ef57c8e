package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faithconnect/voice-gateway/internal/analysis"
	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/metrics"
	"github.com/faithconnect/voice-gateway/internal/protocol"
)

// State is the lifecycle position of a session.
type State int

const (
	StateConnecting State = iota
	StateIdle
	StateRecording
	StateDisconnected
)

// String returns the wire representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport is the narrow surface the manager needs from a client
// connection. WriteJSON must be safe to call from multiple goroutines.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Recorder starts and stops audio capture for a session. Implemented by
// the capture engine.
type Recorder interface {
	Start(sessionID string) error
	Stop(sessionID string)
}

// Session is one connected client.
type Session struct {
	ID          string
	ConnectedAt time.Time

	transport Transport

	mu    sync.Mutex
	state State
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// transition moves the session from one state to another, reporting
// whether the session was actually in the expected state.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// Info is the monitoring view of a session.
type Info struct {
	ID          string        `json:"id"`
	State       string        `json:"state"`
	ConnectedAt time.Time     `json:"connected_at"`
	Duration    time.Duration `json:"duration"`
}

// ManagerStats aggregates session counters.
type ManagerStats struct {
	ActiveSessions    int    `json:"active_sessions"`
	RecordingSessions int    `json:"recording_sessions"`
	TotalConnected    uint64 `json:"total_connected"`
	TotalDisconnected uint64 `json:"total_disconnected"`
}

// Manager owns the session registry. It is the only writer of the session
// set; every mutation happens under its mutex.
type Manager struct {
	recorder Recorder
	ledger   *consent.Ledger
	auditLog *audit.Logger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// When true, analysis results go to every connected session; when
	// false, only back to the session that produced the audio.
	broadcastResults bool

	mu           sync.RWMutex
	sessions     map[string]*Session
	connected    uint64
	disconnected uint64

	onDisconnect func(sessionID string)
}

// NewManager creates a session manager.
func NewManager(recorder Recorder, ledger *consent.Ledger, auditLog *audit.Logger, m *metrics.Metrics, logger *slog.Logger, broadcastResults bool) *Manager {
	return &Manager{
		recorder:         recorder,
		ledger:           ledger,
		auditLog:         auditLog,
		metrics:          m,
		logger:           logger,
		broadcastResults: broadcastResults,
		sessions:         make(map[string]*Session),
	}
}

// SetDisconnectHook registers a callback invoked after a session is
// removed, with the manager's lock released. Used to tear down the
// session's processing queue.
func (m *Manager) SetDisconnectHook(fn func(sessionID string)) {
	m.onDisconnect = fn
}

// Connect registers a new session for the transport and sends the welcome
// status. The returned session is already in the idle state.
func (m *Manager) Connect(t Transport) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		transport:   t,
		state:       StateConnecting,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.connected++
	active := len(m.sessions)
	m.mu.Unlock()

	s.setState(StateIdle)

	m.metrics.RecordSessionConnected()
	m.metrics.SetActiveSessions(active)
	m.auditLog.Record(audit.ActionSessionConnected, s.ID, nil)

	m.logger.Info("Session connected",
		slog.String("session_id", s.ID),
		slog.Int("active_sessions", active),
	)

	m.send(s, protocol.Status("Connected", "idle", s.ID))

	return s
}

// Disconnect removes the session, stops any capture, forgets its consent
// record, and closes the transport. Safe to call for unknown IDs.
func (m *Manager) Disconnect(sessionID string) {
	m.remove(sessionID, audit.ActionSessionDisconnected)
}

// remove is the single teardown path shared by Disconnect and broadcast
// pruning.
func (m *Manager) remove(sessionID, action string) {
	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.disconnected++
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return
	}

	s.setState(StateDisconnected)
	m.recorder.Stop(sessionID)
	m.ledger.Forget(sessionID)
	s.transport.Close()

	if m.onDisconnect != nil {
		m.onDisconnect(sessionID)
	}

	duration := time.Since(s.ConnectedAt)
	m.metrics.RecordSessionDisconnected(duration.Seconds())
	m.metrics.SetActiveSessions(active)
	m.auditLog.Record(action, sessionID, map[string]any{
		"duration_seconds": duration.Seconds(),
	})

	m.logger.Info("Session removed",
		slog.String("session_id", sessionID),
		slog.String("reason", action),
		slog.Duration("duration", duration),
		slog.Int("active_sessions", active),
	)
}

// HandleCommand parses and executes one raw client message. Malformed
// input is answered with an error message; the connection stays open.
func (m *Manager) HandleCommand(sessionID string, raw []byte) {
	s := m.get(sessionID)
	if s == nil {
		return
	}

	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrInvalidJSON):
			m.send(s, protocol.Error(protocol.MsgInvalidJSON))
		case errors.Is(err, protocol.ErrMissingConsent):
			m.send(s, protocol.Error("Consent payload required"))
		default:
			m.send(s, protocol.Error("Unknown action"))
		}
		m.logger.Warn("Rejected client command",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch cmd.Action {
	case protocol.ActionStartRecording:
		m.startRecording(s)
	case protocol.ActionStopRecording:
		m.stopRecording(s)
	case protocol.ActionSetConsent:
		m.setConsent(s, cmd.Consent)
	case protocol.ActionGetStatus:
		m.sendStatus(s)
	}
}

// startRecording authorizes and starts capture for the session.
func (m *Manager) startRecording(s *Session) {
	if !m.ledger.Authorize(s.ID, consent.CapabilityRecording) {
		m.metrics.RecordConsentDenial(string(consent.CapabilityRecording))
		m.auditLog.Record(audit.ActionRecordingDenied, s.ID, nil)
		m.send(s, protocol.Error("Recording consent not granted"))
		return
	}

	if !s.transition(StateIdle, StateRecording) {
		m.send(s, protocol.Error("Recording already active"))
		return
	}

	if err := m.recorder.Start(s.ID); err != nil {
		s.transition(StateRecording, StateIdle)
		m.auditLog.Record(audit.ActionCaptureError, s.ID, map[string]any{
			"error": err.Error(),
		})
		m.send(s, protocol.Error("Could not start recording: "+err.Error()))
		m.logger.Error("Recording start failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.auditLog.Record(audit.ActionRecordingStarted, s.ID, nil)
	m.Broadcast(protocol.Status("Recording started", "recording", s.ID))
}

// stopRecording stops capture. Stopping an idle session is harmless.
func (m *Manager) stopRecording(s *Session) {
	if !s.transition(StateRecording, StateIdle) {
		m.send(s, protocol.Status("Not recording", "idle", s.ID))
		return
	}

	m.recorder.Stop(s.ID)
	m.auditLog.Record(audit.ActionRecordingStopped, s.ID, nil)
	m.Broadcast(protocol.Status("Recording stopped", "idle", s.ID))
}

// setConsent overwrites the session's consent record.
func (m *Manager) setConsent(s *Session, p *protocol.ConsentPayload) {
	record := m.ledger.Set(s.ID, consent.Record{
		AllowRecording:     p.AllowRecording,
		AllowTranscription: p.AllowTranscription,
		AllowAIProcessing:  p.AllowAIProcessing,
		AllowDataRetention: p.AllowDataRetention,
		RetentionPeriod:    time.Duration(p.DataRetentionPeriod) * time.Second,
	})

	m.metrics.RecordConsentUpdate()
	m.auditLog.Record(audit.ActionConsentUpdated, s.ID, map[string]any{
		"version":              record.Version,
		"allow_recording":      p.AllowRecording,
		"allow_transcription":  p.AllowTranscription,
		"allow_ai_processing":  p.AllowAIProcessing,
		"allow_data_retention": p.AllowDataRetention,
	})

	m.send(s, protocol.Status("Consent preferences updated", s.State().String(), s.ID))
}

// sendStatus reports the session's recording state.
func (m *Manager) sendStatus(s *Session) {
	m.send(s, protocol.Status("", s.State().String(), s.ID))
}

// RecordingFailed is called by the capture pipeline when a device dies
// mid-recording. The session drops back to idle and is told why.
func (m *Manager) RecordingFailed(sessionID string, err error) {
	s := m.get(sessionID)
	if s == nil {
		return
	}

	s.transition(StateRecording, StateIdle)
	m.metrics.RecordCaptureFailure()
	m.auditLog.Record(audit.ActionCaptureError, sessionID, map[string]any{
		"error": err.Error(),
	})
	m.send(s, protocol.Error("Recording stopped: "+err.Error()))
}

// PublishAnalysis delivers a processed utterance result. Scope depends on
// configuration: everyone, or only the originating session.
func (m *Manager) PublishAnalysis(sessionID, transcript string, result *analysis.Result) {
	msg := protocol.Analysis(transcript, result)

	if m.broadcastResults {
		m.Broadcast(msg)
		return
	}

	m.Unicast(sessionID, msg)
}

// Connected reports whether the session is still registered.
func (m *Manager) Connected(sessionID string) bool {
	return m.get(sessionID) != nil
}

// Unicast sends a message to one session. A write failure prunes it.
func (m *Manager) Unicast(sessionID string, msg any) {
	s := m.get(sessionID)
	if s == nil {
		return
	}

	m.send(s, msg)
}

// Broadcast snapshots the session set and writes the message to every
// transport. Sessions whose write fails are removed; delivery to the
// others is unaffected.
func (m *Manager) Broadcast(msg any) {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	m.metrics.RecordBroadcast()

	var failed []string
	for _, s := range targets {
		if err := s.transport.WriteJSON(msg); err != nil {
			m.logger.Warn("Broadcast write failed, pruning session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			failed = append(failed, s.ID)
		}
	}

	for _, id := range failed {
		m.metrics.RecordBroadcastPrune()
		m.remove(id, audit.ActionTransportError)
	}
}

// send writes to one session, pruning it when the transport is dead.
func (m *Manager) send(s *Session, msg any) {
	if err := s.transport.WriteJSON(msg); err != nil {
		m.logger.Warn("Session write failed, pruning",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordBroadcastPrune()
		m.remove(s.ID, audit.ActionTransportError)
	}
}

// get returns the live session or nil.
func (m *Manager) get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetStats returns aggregate counters.
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		ActiveSessions:    len(m.sessions),
		TotalConnected:    m.connected,
		TotalDisconnected: m.disconnected,
	}
	for _, s := range m.sessions {
		if s.State() == StateRecording {
			stats.RecordingSessions++
		}
	}

	return stats
}

// Sessions returns the monitoring view of all connected sessions.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, Info{
			ID:          s.ID,
			State:       s.State().String(),
			ConnectedAt: s.ConnectedAt,
			Duration:    time.Since(s.ConnectedAt),
		})
	}

	return infos
}

// CloseAll disconnects every session. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
