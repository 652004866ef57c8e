package transcription

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts a WAV-encoded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// ClientStats is a snapshot of request counters.
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
}

// Client is the Whisper-backed Transcriber.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration

	mu      sync.Mutex
	total   uint64
	success uint64
	failed  uint64
}

// NewClient creates a transcription client. An empty API key is a
// configuration error and fails immediately.
func NewClient(apiKey, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcription API key cannot be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("transcription model cannot be empty")
	}

	return &Client{
		api:     openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}, nil
}

// Transcribe uploads the WAV payload and returns the transcribed text,
// trimmed. An empty transcript is returned as an empty string, not an
// error; the caller decides what to do with silence.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", fmt.Errorf("cannot transcribe empty audio")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	c.total++
	c.mu.Unlock()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
	})
	if err != nil {
		c.mu.Lock()
		c.failed++
		c.mu.Unlock()
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	c.mu.Lock()
	c.success++
	c.mu.Unlock()

	return strings.TrimSpace(resp.Text), nil
}

// GetStats returns current request counters.
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ClientStats{
		TotalRequests:   c.total,
		SuccessRequests: c.success,
		FailedRequests:  c.failed,
	}
	if c.total > 0 {
		stats.SuccessRate = float64(c.success) / float64(c.total)
	}

	return stats
}
