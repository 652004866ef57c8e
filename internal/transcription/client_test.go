package transcription

import (
	"context"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "whisper-1", time.Second); err == nil {
		t.Error("Expected error for empty API key")
	}

	if _, err := NewClient("sk-test", "", time.Second); err == nil {
		t.Error("Expected error for empty model")
	}

	client, err := NewClient("sk-test", "whisper-1", time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if client == nil {
		t.Fatal("Expected a client")
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	client, err := NewClient("sk-test", "whisper-1", time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Error("Expected error for empty audio")
	}

	// Rejected input never counts as a request.
	if stats := client.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("Expected 0 requests, got %d", stats.TotalRequests)
	}
}

func TestGetStatsSuccessRate(t *testing.T) {
	client, err := NewClient("sk-test", "whisper-1", time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stats := client.GetStats()
	if stats.SuccessRate != 0 {
		t.Errorf("Expected zero success rate with no requests, got %f", stats.SuccessRate)
	}

	client.total = 4
	client.success = 3
	client.failed = 1

	stats = client.GetStats()
	if stats.SuccessRate != 0.75 {
		t.Errorf("Expected success rate 0.75, got %f", stats.SuccessRate)
	}
}
