package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/faithconnect/voice-gateway/internal/analysis"
	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/audio"
	"github.com/faithconnect/voice-gateway/internal/capture"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/envelope"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	calls    int
	text     string
	numbered bool
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.numbered {
		return fmt.Sprintf("%s #%d", f.text, f.calls), nil
	}
	return f.text, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcript string) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{Summary: "summary of: " + transcript}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type publication struct {
	sessionID  string
	transcript string
	result     *analysis.Result
}

type fakePublisher struct {
	mu           sync.Mutex
	published    []publication
	disconnected bool
}

func (f *fakePublisher) PublishAnalysis(sessionID, transcript string, result *analysis.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, publication{sessionID, transcript, result})
}

func (f *fakePublisher) Connected(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakePublisher) all() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]publication, len(f.published))
	copy(out, f.published)
	return out
}

type testHarness struct {
	dispatcher  *Dispatcher
	env         *envelope.Envelope
	ledger      *consent.Ledger
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	publisher   *fakePublisher
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	env, err := envelope.New(bytes.Repeat([]byte{7}, envelope.KeySize))
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &testHarness{
		env:         env,
		ledger:      consent.NewLedger(),
		transcriber: &fakeTranscriber{text: "hello there"},
		analyzer:    &fakeAnalyzer{},
		publisher:   &fakePublisher{},
	}

	d, err := New(Config{QueueSize: 8, CacheSize: 16}, Deps{
		Envelope:    env,
		Ledger:      h.ledger,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		Publisher:   h.publisher,
		Audit:       audit.New(io.Discard, logger),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.dispatcher = d
	t.Cleanup(d.Close)

	return h
}

func (h *testHarness) grantAll(sessionID string) {
	h.ledger.Set(sessionID, consent.Record{
		AllowRecording:     true,
		AllowTranscription: true,
		AllowAIProcessing:  true,
	})
}

// makeUtterance encrypts samples into per-chunk ciphertexts with a digest
// over the plaintext waveform, mirroring what capture produces.
func (h *testHarness) makeUtterance(t *testing.T, sessionID string, samples []int16) *capture.Utterance {
	t.Helper()

	wave := audio.SamplesToBytes(samples)
	digest := envelope.Hash(wave)

	const chunkBytes = 320
	var chunks [][]byte
	for off := 0; off < len(wave); off += chunkBytes {
		end := off + chunkBytes
		if end > len(wave) {
			end = len(wave)
		}
		sealed, err := h.env.Encrypt(wave[off:end])
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		chunks = append(chunks, sealed)
	}

	started := time.Now().Add(-time.Second)
	return &capture.Utterance{
		SessionID:  sessionID,
		StartedAt:  started,
		EndedAt:    started.Add(500 * time.Millisecond),
		SampleRate: 16000,
		Chunks:     chunks,
		Digest:     digest,
	}
}

func makeSamples(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProcessPublishesResult(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))

	waitFor(t, 2*time.Second, func() bool { return len(h.publisher.all()) == 1 })

	pub := h.publisher.all()[0]
	if pub.sessionID != "s1" {
		t.Errorf("Expected session s1, got %s", pub.sessionID)
	}
	if pub.transcript != "hello there" {
		t.Errorf("Expected transcript 'hello there', got %q", pub.transcript)
	}
	if pub.result == nil || pub.result.Summary == "" {
		t.Error("Expected a non-empty analysis result")
	}

	stats := h.dispatcher.GetStats()
	if stats.Processed != 1 {
		t.Errorf("Expected 1 processed, got %d", stats.Processed)
	}
	if stats.Dropped != 0 {
		t.Errorf("Expected 0 dropped, got %d", stats.Dropped)
	}
}

func TestTranscriptionRequiresConsent(t *testing.T) {
	h := newTestHarness(t)
	h.ledger.Set("s1", consent.Record{AllowRecording: true})

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))

	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	if h.transcriber.callCount() != 0 {
		t.Error("Transcriber must not be called without transcription consent")
	}
	if len(h.publisher.all()) != 0 {
		t.Error("Nothing should be published without transcription consent")
	}
}

func TestAnalysisDenialWithholdsTranscript(t *testing.T) {
	h := newTestHarness(t)
	h.ledger.Set("s1", consent.Record{
		AllowRecording:     true,
		AllowTranscription: true,
	})

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))

	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	if h.transcriber.callCount() != 1 {
		t.Errorf("Expected 1 transcriber call, got %d", h.transcriber.callCount())
	}
	if h.analyzer.callCount() != 0 {
		t.Error("Analyzer must not be called without AI processing consent")
	}
	if len(h.publisher.all()) != 0 {
		t.Error("Transcript must be withheld when analysis is denied")
	}
}

func TestTamperedChunkIsDropped(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	u := h.makeUtterance(t, "s1", makeSamples(800, 1000))
	u.Chunks[0][len(u.Chunks[0])-1] ^= 0xFF

	h.dispatcher.Enqueue(u)

	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	if h.transcriber.callCount() != 0 {
		t.Error("Tampered audio must never reach the transcriber")
	}
}

func TestDigestMismatchIsDropped(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	u := h.makeUtterance(t, "s1", makeSamples(800, 1000))
	u.Digest = envelope.Hash([]byte("something else"))

	h.dispatcher.Enqueue(u)

	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	if h.transcriber.callCount() != 0 {
		t.Error("Audio failing the integrity check must never reach the transcriber")
	}
}

func TestFailureDoesNotStopWorker(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	h.transcriber.mu.Lock()
	h.transcriber.err = errors.New("service unavailable")
	h.transcriber.mu.Unlock()

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))
	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	h.transcriber.mu.Lock()
	h.transcriber.err = nil
	h.transcriber.mu.Unlock()

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 2000)))
	waitFor(t, 2*time.Second, func() bool { return len(h.publisher.all()) == 1 })

	stats := h.dispatcher.GetStats()
	if stats.Processed != 1 || stats.Dropped != 1 {
		t.Errorf("Expected 1 processed and 1 dropped, got %d and %d", stats.Processed, stats.Dropped)
	}
}

func TestUtterancesProcessedInOrder(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")
	h.transcriber.numbered = true

	for i := 0; i < 3; i++ {
		h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, int16(1000+i))))
	}

	waitFor(t, 2*time.Second, func() bool { return len(h.publisher.all()) == 3 })

	// Distinct waveforms bypass the cache, so the numbered transcripts
	// reveal processing order.
	for i, pub := range h.publisher.all() {
		want := fmt.Sprintf("hello there #%d", i+1)
		if pub.transcript != want {
			t.Errorf("Publication %d: expected transcript %q, got %q", i, want, pub.transcript)
		}
	}

	if h.transcriber.callCount() != 3 {
		t.Errorf("Expected 3 transcriber calls, got %d", h.transcriber.callCount())
	}
}

func TestIdenticalAudioUsesCache(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	samples := makeSamples(800, 1234)
	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", samples))
	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", samples))

	waitFor(t, 2*time.Second, func() bool { return len(h.publisher.all()) == 2 })

	if h.transcriber.callCount() != 1 {
		t.Errorf("Expected 1 transcriber call for identical audio, got %d", h.transcriber.callCount())
	}
	if h.analyzer.callCount() != 1 {
		t.Errorf("Expected 1 analyzer call for identical audio, got %d", h.analyzer.callCount())
	}
}

func TestResultForDisconnectedSessionIsDiscarded(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")
	h.publisher.mu.Lock()
	h.publisher.disconnected = true
	h.publisher.mu.Unlock()

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))

	waitFor(t, 2*time.Second, func() bool { return h.dispatcher.GetStats().Dropped == 1 })

	if len(h.publisher.all()) != 0 {
		t.Error("Results for disconnected sessions must be discarded")
	}
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	h := newTestHarness(t)
	// No consent record: every utterance stops at the transcription gate,
	// keeping processing fast while the queue is saturated from a cold
	// start.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(Config{QueueSize: 1, CacheSize: 4}, Deps{
		Envelope:    h.env,
		Ledger:      h.ledger,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		Publisher:   h.publisher,
		Audit:       audit.New(io.Discard, logger),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	for i := 0; i < 50; i++ {
		d.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))
	}

	waitFor(t, 2*time.Second, func() bool { return d.GetStats().Dropped == 50 })

	if got := len(h.publisher.all()); got != 0 {
		t.Errorf("Expected no publications, got %d", got)
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	h := newTestHarness(t)
	h.grantAll("s1")

	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 1000)))
	waitFor(t, 2*time.Second, func() bool { return len(h.publisher.all()) == 1 })

	h.dispatcher.Close()

	if h.dispatcher.GetStats().ActiveQueues != 0 {
		t.Error("Expected no active queues after Close")
	}

	// Enqueue after Close is a no-op.
	h.dispatcher.Enqueue(h.makeUtterance(t, "s1", makeSamples(800, 2000)))
	time.Sleep(20 * time.Millisecond)
	if len(h.publisher.all()) != 1 {
		t.Error("Enqueue after Close must not process anything")
	}
}
