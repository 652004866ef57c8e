package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/envelope"
)

// artifactMeta sits next to each encrypted artifact and carries everything
// the janitor needs without decrypting anything.
type artifactMeta struct {
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	RetainUntil time.Time `json:"retain_until"`
}

// ArtifactStore keeps encrypted utterance waveforms on disk for sessions
// that consented to retention, and purges them when their retention window
// expires. Artifacts are written as <id>.bin (ciphertext) plus <id>.json
// (metadata).
type ArtifactStore struct {
	dir      string
	sweep    time.Duration
	env      *envelope.Envelope
	ledger   *consent.Ledger
	auditLog *audit.Logger
	logger   *slog.Logger

	mu      sync.Mutex
	stored  uint64
	purged  uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewArtifactStore creates the artifact directory and returns a store.
func NewArtifactStore(dir string, sweep time.Duration, env *envelope.Envelope, ledger *consent.Ledger, auditLog *audit.Logger, logger *slog.Logger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &ArtifactStore{
		dir:      dir,
		sweep:    sweep,
		env:      env,
		ledger:   ledger,
		auditLog: auditLog,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Store persists one utterance waveform if the session currently consents
// to retention. Storage failures are logged and audited, never propagated:
// retention is best-effort and must not stall the pipeline.
func (s *ArtifactStore) Store(sessionID string, wave []byte, createdAt time.Time) {
	rec, ok := s.ledger.Get(sessionID)
	if !ok || !rec.AllowDataRetention {
		return
	}

	sealed, err := s.env.Encrypt(wave)
	if err != nil {
		s.logger.Error("Failed to encrypt artifact",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	id := envelope.NewID()
	meta := artifactMeta{
		SessionID:   sessionID,
		CreatedAt:   createdAt.UTC(),
		RetainUntil: createdAt.UTC().Add(rec.RetentionPeriod),
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		s.logger.Error("Failed to marshal artifact metadata",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	binPath := filepath.Join(s.dir, id+".bin")
	metaPath := filepath.Join(s.dir, id+".json")

	if err := os.WriteFile(binPath, sealed, 0600); err != nil {
		s.logger.Error("Failed to write artifact",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := os.WriteFile(metaPath, metaData, 0600); err != nil {
		os.Remove(binPath)
		s.logger.Error("Failed to write artifact metadata",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.stored++
	s.mu.Unlock()

	s.auditLog.Record(audit.ActionArtifactStored, sessionID, map[string]any{
		"artifact_id":  id,
		"bytes":        len(sealed),
		"retain_until": meta.RetainUntil,
	})
}

// Start launches the janitor that purges expired artifacts.
func (s *ArtifactStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.janitor()
	s.logger.Info("Artifact janitor started",
		slog.String("dir", s.dir),
		slog.Duration("sweep_interval", s.sweep),
	)
}

// Stop halts the janitor. Safe to call when Start was never called.
func (s *ArtifactStore) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *ArtifactStore) janitor() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.PurgeExpired(time.Now())
		}
	}
}

// PurgeExpired removes every artifact whose retention window has passed.
// Returns the number of artifacts removed.
func (s *ArtifactStore) PurgeExpired(now time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("Failed to read artifact directory",
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		metaPath := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta artifactMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			// Unreadable metadata means the artifact can never be
			// justified; remove the pair.
			s.removePair(metaPath)
			removed++
			continue
		}

		if now.After(meta.RetainUntil) {
			s.removePair(metaPath)
			removed++
			s.auditLog.Record(audit.ActionArtifactPurged, meta.SessionID, map[string]any{
				"artifact_id": strings.TrimSuffix(entry.Name(), ".json"),
			})
		}
	}

	if removed > 0 {
		s.mu.Lock()
		s.purged += uint64(removed)
		s.mu.Unlock()

		s.logger.Info("Purged expired artifacts", slog.Int("count", removed))
	}

	return removed
}

func (s *ArtifactStore) removePair(metaPath string) {
	os.Remove(strings.TrimSuffix(metaPath, ".json") + ".bin")
	os.Remove(metaPath)
}

// Count returns the number of artifacts currently on disk.
func (s *ArtifactStore) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".bin") {
			n++
		}
	}

	return n
}
