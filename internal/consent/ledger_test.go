package consent

import (
	"testing"
	"time"
)

func TestAuthorizeWithoutRecord(t *testing.T) {
	l := NewLedger()

	for _, c := range []Capability{CapabilityRecording, CapabilityTranscription, CapabilityAIProcessing, CapabilityDataRetention} {
		if l.Authorize("unknown", c) {
			t.Errorf("Authorize(%q) = true for session without record", c)
		}
	}
}

func TestSetAndAuthorize(t *testing.T) {
	l := NewLedger()

	l.Set("s1", Record{AllowRecording: true, AllowTranscription: true})

	if !l.Authorize("s1", CapabilityRecording) {
		t.Error("recording should be authorized")
	}
	if !l.Authorize("s1", CapabilityTranscription) {
		t.Error("transcription should be authorized")
	}
	if l.Authorize("s1", CapabilityAIProcessing) {
		t.Error("ai_processing should not be authorized")
	}
	if l.Authorize("s2", CapabilityRecording) {
		t.Error("other session should not be authorized")
	}
}

func TestSetVersioning(t *testing.T) {
	l := NewLedger()

	first := l.Set("s1", Record{AllowRecording: true})
	if first.Version != 1 {
		t.Errorf("first version = %d, want 1", first.Version)
	}
	if first.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}

	second := l.Set("s1", Record{AllowRecording: false})
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}
}

func TestRevocationTakesEffectImmediately(t *testing.T) {
	l := NewLedger()

	l.Set("s1", Record{AllowRecording: true, AllowTranscription: true, AllowAIProcessing: true})
	if !l.Authorize("s1", CapabilityAIProcessing) {
		t.Fatal("expected ai_processing granted")
	}

	// Last write wins: the new record replaces all previous flags.
	l.Set("s1", Record{AllowRecording: true})

	if l.Authorize("s1", CapabilityTranscription) {
		t.Error("transcription still authorized after revocation")
	}
	if l.Authorize("s1", CapabilityAIProcessing) {
		t.Error("ai_processing still authorized after revocation")
	}
	if !l.Authorize("s1", CapabilityRecording) {
		t.Error("recording should remain authorized")
	}
}

func TestForget(t *testing.T) {
	l := NewLedger()

	l.Set("s1", Record{AllowRecording: true})
	l.Forget("s1")

	if _, ok := l.Get("s1"); ok {
		t.Error("record should be gone after Forget")
	}
	if l.Authorize("s1", CapabilityRecording) {
		t.Error("forgotten session should not be authorized")
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestShouldRetain(t *testing.T) {
	l := NewLedger()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Set("s1", Record{AllowDataRetention: true, RetentionPeriod: time.Hour})

	if !l.ShouldRetain("s1", base.Add(-30*time.Minute)) {
		t.Error("data inside the retention window should be retained")
	}
	if l.ShouldRetain("s1", base.Add(-2*time.Hour)) {
		t.Error("data past the retention window should not be retained")
	}

	l.Set("s1", Record{AllowDataRetention: false, RetentionPeriod: time.Hour})
	if l.ShouldRetain("s1", base) {
		t.Error("session without retention consent should retain nothing")
	}

	if l.ShouldRetain("unknown", base) {
		t.Error("session without record should retain nothing")
	}
}
