package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/faithconnect/voice-gateway/internal/analysis"
	"github.com/faithconnect/voice-gateway/internal/audit"
	"github.com/faithconnect/voice-gateway/internal/audio"
	"github.com/faithconnect/voice-gateway/internal/capture"
	"github.com/faithconnect/voice-gateway/internal/consent"
	"github.com/faithconnect/voice-gateway/internal/envelope"
	"github.com/faithconnect/voice-gateway/internal/metrics"
	"github.com/faithconnect/voice-gateway/internal/transcription"
)

// Publisher delivers processed results back to sessions. Implemented by
// the session manager.
type Publisher interface {
	PublishAnalysis(sessionID, transcript string, result *analysis.Result)
	Connected(sessionID string) bool
}

// Config holds dispatcher tuning parameters.
type Config struct {
	// QueueSize bounds each session's pending utterances. When a queue is
	// full the newest utterance is dropped and audited, never blocking the
	// capture goroutine.
	QueueSize int
	// CacheSize bounds the transcription and analysis result caches.
	CacheSize int
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Envelope    *envelope.Envelope
	Ledger      *consent.Ledger
	Transcriber transcription.Transcriber
	Analyzer    analysis.Analyzer
	Publisher   Publisher
	Audit       *audit.Logger
	Store       *ArtifactStore // nil disables retention
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Processed       uint64 `json:"processed"`
	Dropped         uint64 `json:"dropped"`
	ActiveQueues    int    `json:"active_queues"`
	TranscriptCache int    `json:"transcript_cache_entries"`
	AnalysisCache   int    `json:"analysis_cache_entries"`
}

type sessionQueue struct {
	ch   chan *capture.Utterance
	done chan struct{}
}

// Dispatcher fans utterances out to per-session workers.
type Dispatcher struct {
	cfg  Config
	deps Deps

	transcripts *lru.Cache[string, string]
	analyses    *lru.Cache[string, *analysis.Result]

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	closed    bool
	processed uint64
	dropped   uint64
	wg        sync.WaitGroup
}

// New creates a dispatcher. Cache and queue sizes below 1 are rejected by
// config validation before this point; they are clamped here anyway.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 128
	}

	transcripts, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	analyses, err := lru.New[string, *analysis.Result](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		cfg:         cfg,
		deps:        deps,
		transcripts: transcripts,
		analyses:    analyses,
		queues:      make(map[string]*sessionQueue),
	}, nil
}

// Enqueue queues a finalized utterance for its session's worker, creating
// the worker on first use. Never blocks: a full queue drops the utterance.
func (d *Dispatcher) Enqueue(u *capture.Utterance) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	q, ok := d.queues[u.SessionID]
	if !ok {
		q = &sessionQueue{
			ch:   make(chan *capture.Utterance, d.cfg.QueueSize),
			done: make(chan struct{}),
		}
		d.queues[u.SessionID] = q
		d.wg.Add(1)
		go d.worker(q)
	}
	d.mu.Unlock()

	select {
	case q.ch <- u:
	default:
		d.drop("queue_overflow")
		d.deps.Audit.Record(audit.ActionQueueOverflow, u.SessionID, map[string]any{
			"queue_size": d.cfg.QueueSize,
		})
		d.deps.Logger.Warn("Utterance dropped, session queue full",
			slog.String("session_id", u.SessionID),
			slog.Int("queue_size", d.cfg.QueueSize),
		)
	}
}

// DropSession tears down the session's queue. Pending utterances are
// discarded; the in-flight one finishes and its result is then dropped by
// the disconnect check.
func (d *Dispatcher) DropSession(sessionID string) {
	d.mu.Lock()
	q, ok := d.queues[sessionID]
	if ok {
		delete(d.queues, sessionID)
	}
	d.mu.Unlock()

	if ok {
		close(q.done)
	}
}

// Close tears down all queues and waits for the workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	queues := make([]*sessionQueue, 0, len(d.queues))
	for id, q := range d.queues {
		queues = append(queues, q)
		delete(d.queues, id)
	}
	d.mu.Unlock()

	for _, q := range queues {
		close(q.done)
	}
	d.wg.Wait()
}

// GetStats returns a snapshot of dispatcher counters.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Processed:       d.processed,
		Dropped:         d.dropped,
		ActiveQueues:    len(d.queues),
		TranscriptCache: d.transcripts.Len(),
		AnalysisCache:   d.analyses.Len(),
	}
}

func (d *Dispatcher) worker(q *sessionQueue) {
	defer d.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case u := <-q.ch:
			d.process(u)
		}
	}
}

// process runs the full pipeline for one utterance. Every exit path other
// than success drops the utterance without disturbing the worker.
func (d *Dispatcher) process(u *capture.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			d.drop("panic")
			d.deps.Logger.Error("Panic while processing utterance",
				slog.String("session_id", u.SessionID),
				slog.Any("panic", r),
			)
		}
	}()

	started := time.Now()
	ctx := context.Background()

	wave, err := d.reassemble(u)
	if err != nil {
		d.drop("crypto_error")
		d.deps.Audit.Record(audit.ActionCryptoError, u.SessionID, map[string]any{
			"error": err.Error(),
		})
		d.deps.Logger.Error("Utterance failed decryption",
			slog.String("session_id", u.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !envelope.Verify(wave, u.Digest) {
		d.drop("integrity_error")
		d.deps.Audit.Record(audit.ActionIntegrityError, u.SessionID, nil)
		d.deps.Logger.Error("Utterance integrity check failed",
			slog.String("session_id", u.SessionID),
		)
		return
	}

	if d.deps.Store != nil {
		d.deps.Store.Store(u.SessionID, wave, u.StartedAt)
	}

	// Consent is re-checked against the live ledger immediately before
	// each privileged step; a record set mid-session applies to every
	// utterance dispatched after it.
	if !d.deps.Ledger.Authorize(u.SessionID, consent.CapabilityTranscription) {
		d.drop("transcription_denied")
		d.deps.Metrics.RecordConsentDenial(string(consent.CapabilityTranscription))
		d.deps.Audit.Record(audit.ActionTranscriptionDenied, u.SessionID, nil)
		return
	}

	transcript, err := d.transcribe(ctx, u, wave)
	if err != nil {
		d.drop("transcription_error")
		d.deps.Audit.Record(audit.ActionTranscriptionError, u.SessionID, map[string]any{
			"error": err.Error(),
		})
		d.deps.Logger.Error("Transcription failed",
			slog.String("session_id", u.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if strings.TrimSpace(transcript) == "" {
		d.drop("empty_transcript")
		d.deps.Audit.Record(audit.ActionTranscriptionError, u.SessionID, map[string]any{
			"error": "empty transcript",
		})
		return
	}

	if !d.deps.Ledger.Authorize(u.SessionID, consent.CapabilityAIProcessing) {
		// The transcript is withheld along with the analysis; clients
		// never see partial results from a denied pipeline.
		d.drop("analysis_denied")
		d.deps.Metrics.RecordConsentDenial(string(consent.CapabilityAIProcessing))
		d.deps.Audit.Record(audit.ActionAnalysisDenied, u.SessionID, nil)
		return
	}

	result, err := d.analyze(ctx, u, transcript)
	if err != nil {
		d.drop("analysis_error")
		d.deps.Audit.Record(audit.ActionAnalysisError, u.SessionID, map[string]any{
			"error": err.Error(),
		})
		d.deps.Logger.Error("Analysis failed",
			slog.String("session_id", u.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !d.deps.Publisher.Connected(u.SessionID) {
		d.drop("session_gone")
		d.deps.Audit.Record(audit.ActionResultDiscarded, u.SessionID, nil)
		return
	}

	d.deps.Publisher.PublishAnalysis(u.SessionID, transcript, result)

	d.mu.Lock()
	d.processed++
	d.mu.Unlock()

	elapsed := time.Since(started)
	d.deps.Metrics.RecordDispatchCompleted(elapsed.Seconds())
	d.deps.Audit.Record(audit.ActionProcessingCompleted, u.SessionID, map[string]any{
		"chunks":             len(u.Chunks),
		"duration_seconds":   u.Duration().Seconds(),
		"processing_seconds": elapsed.Seconds(),
	})
	d.deps.Logger.Info("Utterance processed",
		slog.String("session_id", u.SessionID),
		slog.Int("transcript_length", len(transcript)),
		slog.Duration("processing_time", elapsed),
	)
}

// reassemble decrypts the utterance chunks back into the plaintext
// waveform.
func (d *Dispatcher) reassemble(u *capture.Utterance) ([]byte, error) {
	var wave []byte
	for _, sealed := range u.Chunks {
		plain, err := d.deps.Envelope.Decrypt(sealed)
		if err != nil {
			return nil, err
		}
		wave = append(wave, plain...)
	}

	return wave, nil
}

// transcribe returns the cached transcript for this waveform or calls the
// collaborator. The cache key is the content digest, so identical audio is
// never transcribed twice.
func (d *Dispatcher) transcribe(ctx context.Context, u *capture.Utterance, wave []byte) (string, error) {
	if cached, ok := d.transcripts.Get(u.Digest); ok {
		d.deps.Metrics.RecordCacheHit("transcription")
		return cached, nil
	}

	samples, err := audio.BytesToSamples(wave)
	if err != nil {
		return "", err
	}
	wav, err := audio.EncodeWAV(samples, u.SampleRate)
	if err != nil {
		return "", err
	}

	started := time.Now()
	transcript, err := d.deps.Transcriber.Transcribe(ctx, wav)
	d.deps.Metrics.RecordTranscription(err == nil, time.Since(started).Seconds())
	if err != nil {
		return "", err
	}

	d.transcripts.Add(u.Digest, transcript)
	return transcript, nil
}

// analyze returns the cached analysis for this waveform or calls the
// collaborator.
func (d *Dispatcher) analyze(ctx context.Context, u *capture.Utterance, transcript string) (*analysis.Result, error) {
	if cached, ok := d.analyses.Get(u.Digest); ok {
		d.deps.Metrics.RecordCacheHit("analysis")
		return cached, nil
	}

	started := time.Now()
	result, err := d.deps.Analyzer.Analyze(ctx, transcript)
	d.deps.Metrics.RecordAnalysis(err == nil, time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	d.analyses.Add(u.Digest, result)
	return result, nil
}

func (d *Dispatcher) drop(reason string) {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
	d.deps.Metrics.RecordDispatchDropped(reason)
}
