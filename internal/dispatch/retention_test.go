package dispatch

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/envelope"
)

func newTestStore(t *testing.T) (*ArtifactStore, *consent.Ledger, *envelope.Envelope) {
	t.Helper()

	env, err := envelope.New(bytes.Repeat([]byte{9}, envelope.KeySize))
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := consent.NewLedger()

	store, err := NewArtifactStore(filepath.Join(t.TempDir(), "artifacts"), time.Minute, env, ledger, audit.New(io.Discard, logger), logger)
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}

	return store, ledger, env
}

func TestStoreRequiresRetentionConsent(t *testing.T) {
	store, ledger, _ := newTestStore(t)

	store.Store("s1", []byte("waveform"), time.Now())
	if store.Count() != 0 {
		t.Error("Nothing should be stored without a consent record")
	}

	ledger.Set("s1", consent.Record{AllowRecording: true})
	store.Store("s1", []byte("waveform"), time.Now())
	if store.Count() != 0 {
		t.Error("Nothing should be stored without retention consent")
	}

	ledger.Set("s1", consent.Record{
		AllowRecording:     true,
		AllowDataRetention: true,
		RetentionPeriod:    time.Hour,
	})
	store.Store("s1", []byte("waveform"), time.Now())
	if store.Count() != 1 {
		t.Errorf("Expected 1 artifact, got %d", store.Count())
	}
}

func TestStoredArtifactIsEncrypted(t *testing.T) {
	store, ledger, env := newTestStore(t)

	ledger.Set("s1", consent.Record{
		AllowDataRetention: true,
		RetentionPeriod:    time.Hour,
	})

	wave := []byte("plaintext waveform bytes")
	store.Store("s1", wave, time.Now())

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	var sealed []byte
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".bin") {
			sealed, err = os.ReadFile(filepath.Join(store.dir, entry.Name()))
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
		}
	}
	if sealed == nil {
		t.Fatal("Expected a .bin artifact on disk")
	}

	if bytes.Contains(sealed, wave) {
		t.Error("Artifact must not contain the plaintext waveform")
	}

	plain, err := env.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(plain, wave) {
		t.Error("Decrypted artifact does not match the original waveform")
	}
}

func TestPurgeExpiredRespectsRetentionWindow(t *testing.T) {
	store, ledger, _ := newTestStore(t)

	ledger.Set("s1", consent.Record{
		AllowDataRetention: true,
		RetentionPeriod:    time.Hour,
	})

	created := time.Now()
	store.Store("s1", []byte("waveform"), created)

	if removed := store.PurgeExpired(created.Add(30 * time.Minute)); removed != 0 {
		t.Errorf("Expected no purge inside the window, removed %d", removed)
	}
	if store.Count() != 1 {
		t.Error("Artifact inside its retention window must be kept")
	}

	if removed := store.PurgeExpired(created.Add(2 * time.Hour)); removed != 1 {
		t.Errorf("Expected 1 purge after the window, removed %d", removed)
	}
	if store.Count() != 0 {
		t.Error("Expired artifact must be removed")
	}
}

func TestPurgeRemovesUnreadableMetadata(t *testing.T) {
	store, _, _ := newTestStore(t)

	if err := os.WriteFile(filepath.Join(store.dir, "orphan.bin"), []byte("sealed"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.dir, "orphan.json"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if removed := store.PurgeExpired(time.Now()); removed != 1 {
		t.Errorf("Expected 1 removal, got %d", removed)
	}
	if store.Count() != 0 {
		t.Error("Artifact with unreadable metadata must be removed")
	}
}

func TestJanitorStartStop(t *testing.T) {
	store, _, _ := newTestStore(t)

	store.Start()
	store.Stop()

	// Stop after Stop is a no-op.
	store.Stop()
}
