package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"sync"
	"time"

	"github.com/faithconnect/voice-gateway/internal/audio"
	"github.com/faithconnect/voice-gateway/internal/envelope"
)

// Utterance is a finalized run of speech: encrypted chunks in capture
// order plus the integrity digest of the plaintext waveform.
type Utterance struct {
	SessionID  string
	StartedAt  time.Time
	EndedAt    time.Time
	SampleRate int
	Chunks     [][]byte // encrypted chunk payloads, in order
	Digest     string   // hex SHA-256 of the reassembled plaintext
}

// Duration returns the audio length of the utterance.
func (u *Utterance) Duration() time.Duration {
	return u.EndedAt.Sub(u.StartedAt)
}

// Sink receives the output of a capture goroutine. UtteranceReady is
// called in utterance order for a given session; CaptureFailed means the
// device died and capture for that session stopped.
type Sink interface {
	UtteranceReady(u *Utterance)
	CaptureFailed(sessionID string, err error)
}

// DeviceFactory opens a fresh audio device for a new capture.
type DeviceFactory func() (audio.Device, error)

// Config holds the capture and segmentation parameters.
type Config struct {
	SampleRate       int
	ChunkDuration    time.Duration
	SilenceThreshold float64 // mean-abs amplitude in [0, 1]
	SilenceDuration  time.Duration
}

// Engine manages capture goroutines, one per recording session.
type Engine struct {
	cfg        Config
	env        *envelope.Envelope
	openDevice DeviceFactory
	logger     *slog.Logger
	sink       Sink
	now        func() time.Time

	mu        sync.Mutex
	captures  map[string]*capturer
	finalized uint64
	failures  uint64
}

// Stats is a snapshot of engine counters for monitoring.
type Stats struct {
	ActiveCaptures      int    `json:"active_captures"`
	UtterancesFinalized uint64 `json:"utterances_finalized"`
	CaptureFailures     uint64 `json:"capture_failures"`
}

type capturer struct {
	sessionID string
	dev       audio.Device
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEngine creates a capture engine. SetSink must be called before the
// first Start.
func NewEngine(cfg Config, env *envelope.Envelope, openDevice DeviceFactory, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		env:        env,
		openDevice: openDevice,
		logger:     logger,
		now:        time.Now,
		captures:   make(map[string]*capturer),
	}
}

// SetSink wires the downstream consumer of finalized utterances.
func (e *Engine) SetSink(s Sink) {
	e.sink = s
}

// Start opens a device and begins capturing for sessionID. Starting a
// session that is already recording, or failing to open the device, returns
// a DeviceError.
func (e *Engine) Start(sessionID string) error {
	e.mu.Lock()
	if _, exists := e.captures[sessionID]; exists {
		e.mu.Unlock()
		return &audio.DeviceError{Op: "start", Err: fmt.Errorf("capture already active for session %s", sessionID)}
	}
	e.mu.Unlock()

	dev, err := e.openDevice()
	if err != nil {
		return &audio.DeviceError{Op: "open", Err: err}
	}

	if err := dev.Start(); err != nil {
		dev.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &capturer{
		sessionID: sessionID,
		dev:       dev,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	if _, exists := e.captures[sessionID]; exists {
		e.mu.Unlock()
		cancel()
		dev.Close()
		return &audio.DeviceError{Op: "start", Err: fmt.Errorf("capture already active for session %s", sessionID)}
	}
	e.captures[sessionID] = c
	e.mu.Unlock()

	go e.run(ctx, c)

	e.logger.Info("Capture started",
		slog.String("session_id", sessionID),
		slog.Duration("chunk_duration", e.cfg.ChunkDuration),
		slog.Float64("silence_threshold", e.cfg.SilenceThreshold),
	)

	return nil
}

// Stop ends capture for sessionID and waits for its goroutine to finish.
// A pending utterance is finalized on the way out. Stopping a session that
// is not recording is a no-op.
func (e *Engine) Stop(sessionID string) {
	e.mu.Lock()
	c, exists := e.captures[sessionID]
	if exists {
		delete(e.captures, sessionID)
	}
	e.mu.Unlock()

	if !exists {
		return
	}

	c.cancel()
	c.dev.Close()
	<-c.done

	e.logger.Info("Capture stopped", slog.String("session_id", sessionID))
}

// StopAll stops every active capture. Used during shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.captures))
	for id := range e.captures {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Stop(id)
	}
}

// Recording reports whether sessionID has an active capture.
func (e *Engine) Recording(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, exists := e.captures[sessionID]
	return exists
}

// GetStats returns a snapshot of engine counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		ActiveCaptures:      len(e.captures),
		UtterancesFinalized: e.finalized,
		CaptureFailures:     e.failures,
	}
}

// pending is an utterance under construction. Chunks after the most recent
// loud chunk sit in tail until either new sound promotes them into the
// utterance or a silence boundary drops them.
type pending struct {
	startedAt time.Time
	lastSound time.Time
	hasher    hash.Hash
	chunks    [][]byte
	tail      [][]byte
}

// run is the capture loop for one session. It owns the device and the
// pending utterance; all segmentation decisions are serialized here.
func (e *Engine) run(ctx context.Context, c *capturer) {
	defer close(c.done)
	defer c.dev.Close()

	chunkSamples := int(float64(e.cfg.SampleRate) * e.cfg.ChunkDuration.Seconds())
	buf := make([]int16, chunkSamples)

	var open *pending
	lastSound := e.now()

	for {
		if ctx.Err() != nil {
			e.flush(c.sessionID, open)
			return
		}

		if err := c.dev.ReadChunk(buf); err != nil {
			if ctx.Err() != nil {
				e.flush(c.sessionID, open)
				return
			}
			e.fail(c, err)
			return
		}

		now := e.now()
		amp := audio.MeanAbsAmplitude(buf)

		if amp > e.cfg.SilenceThreshold {
			lastSound = now
			if open == nil {
				open = &pending{startedAt: now, hasher: sha256.New()}
				e.logger.Debug("Utterance opened",
					slog.String("session_id", c.sessionID),
					slog.Float64("amplitude", amp),
				)
			}
			open.lastSound = now
			if err := e.appendLoud(open, buf); err != nil {
				e.logger.Error("Dropping utterance after encryption failure",
					slog.String("session_id", c.sessionID),
					slog.String("error", err.Error()),
				)
				open = nil
			}
			continue
		}

		if open == nil {
			continue
		}

		if err := e.appendQuiet(open, buf); err != nil {
			e.logger.Error("Dropping utterance after encryption failure",
				slog.String("session_id", c.sessionID),
				slog.String("error", err.Error()),
			)
			open = nil
			continue
		}

		if now.Sub(lastSound) >= e.cfg.SilenceDuration {
			e.emit(c.sessionID, open)
			open = nil
		}
	}
}

// appendLoud adds an above-threshold chunk to the utterance, first
// promoting any quiet chunks buffered since the previous sound. Promoted
// ciphertext is decrypted only to extend the running digest.
func (e *Engine) appendLoud(p *pending, samples []int16) error {
	for _, sealed := range p.tail {
		plain, err := e.env.Decrypt(sealed)
		if err != nil {
			return err
		}
		p.hasher.Write(plain)
		p.chunks = append(p.chunks, sealed)
	}
	p.tail = nil

	raw := audio.SamplesToBytes(samples)
	p.hasher.Write(raw)

	sealed, err := e.env.Encrypt(raw)
	if err != nil {
		return err
	}
	p.chunks = append(p.chunks, sealed)

	return nil
}

// appendQuiet buffers a below-threshold chunk. It becomes part of the
// utterance only if more sound arrives before the silence window elapses.
func (e *Engine) appendQuiet(p *pending, samples []int16) error {
	sealed, err := e.env.Encrypt(audio.SamplesToBytes(samples))
	if err != nil {
		return err
	}
	p.tail = append(p.tail, sealed)

	return nil
}

// emit finalizes the pending utterance and hands it to the sink. Trailing
// quiet chunks are discarded; an utterance always contains at least one
// above-threshold chunk.
func (e *Engine) emit(sessionID string, p *pending) {
	if p == nil || len(p.chunks) == 0 {
		return
	}

	u := &Utterance{
		SessionID:  sessionID,
		StartedAt:  p.startedAt,
		EndedAt:    p.lastSound.Add(e.cfg.ChunkDuration),
		SampleRate: e.cfg.SampleRate,
		Chunks:     p.chunks,
		Digest:     hex.EncodeToString(p.hasher.Sum(nil)),
	}

	e.mu.Lock()
	e.finalized++
	e.mu.Unlock()

	e.logger.Info("Utterance finalized",
		slog.String("session_id", sessionID),
		slog.Int("chunks", len(u.Chunks)),
		slog.Duration("duration", u.Duration()),
	)

	if e.sink != nil {
		e.sink.UtteranceReady(u)
	}
}

// flush emits a pending utterance when capture ends without a silence
// boundary, so a stop command does not lose buffered speech.
func (e *Engine) flush(sessionID string, p *pending) {
	e.emit(sessionID, p)
}

// fail reports a mid-stream device failure and removes the capture. The
// error is fatal for this session's recording only; the session itself
// stays connected.
func (e *Engine) fail(c *capturer, err error) {
	e.mu.Lock()
	if current, ok := e.captures[c.sessionID]; ok && current == c {
		delete(e.captures, c.sessionID)
	}
	e.failures++
	e.mu.Unlock()

	e.logger.Error("Capture failed",
		slog.String("session_id", c.sessionID),
		slog.String("error", err.Error()),
	)

	if e.sink != nil {
		e.sink.CaptureFailed(c.sessionID, err)
	}
}
