package consent

import (
	"sync"
	"time"
)

// Capability identifies a privileged operation gated by consent.
type Capability string

const (
	CapabilityRecording     Capability = "recording"
	CapabilityTranscription Capability = "transcription"
	CapabilityAIProcessing  Capability = "ai_processing"
	CapabilityDataRetention Capability = "data_retention"
)

// Record holds the consent preferences of a single session. Version starts
// at 1 on the first Set and increments on every overwrite.
type Record struct {
	AllowRecording     bool
	AllowTranscription bool
	AllowAIProcessing  bool
	AllowDataRetention bool
	RetentionPeriod    time.Duration
	Version            int
	UpdatedAt          time.Time
}

// allows reports whether the record grants the given capability.
func (r Record) allows(c Capability) bool {
	switch c {
	case CapabilityRecording:
		return r.AllowRecording
	case CapabilityTranscription:
		return r.AllowTranscription
	case CapabilityAIProcessing:
		return r.AllowAIProcessing
	case CapabilityDataRetention:
		return r.AllowDataRetention
	default:
		return false
	}
}

// Ledger maps session IDs to their current consent records. All methods are
// safe for concurrent use. Authorize is evaluated against the live record on
// every call; callers must not cache its result across operations.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewLedger creates an empty consent ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Set overwrites the record for sessionID, bumping its version and stamping
// the update time. The stored record is returned.
func (l *Ledger) Set(sessionID string, r Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.Version = l.records[sessionID].Version + 1
	r.UpdatedAt = l.now()
	l.records[sessionID] = r

	return r
}

// Get returns the current record for sessionID.
func (l *Ledger) Get(sessionID string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[sessionID]
	return r, ok
}

// Authorize reports whether sessionID currently grants the capability.
// A session with no record grants nothing.
func (l *Ledger) Authorize(sessionID string, c Capability) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[sessionID]
	if !ok {
		return false
	}

	return r.allows(c)
}

// ShouldRetain reports whether data created at createdAt is still inside the
// session's retention window. Sessions without retention consent retain
// nothing.
func (l *Ledger) ShouldRetain(sessionID string, createdAt time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[sessionID]
	if !ok || !r.AllowDataRetention {
		return false
	}

	return l.now().Sub(createdAt) <= r.RetentionPeriod
}

// Forget removes the record for sessionID. Called on disconnect.
func (l *Ledger) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, sessionID)
}

// Len returns the number of sessions with a consent record.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}
