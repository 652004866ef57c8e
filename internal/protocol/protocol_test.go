package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/faithconnect/voice-gateway/internal/analysis"
)

func TestParseCommandActions(t *testing.T) {
	cases := []struct {
		raw    string
		action string
	}{
		{`{"action": "start_recording"}`, ActionStartRecording},
		{`{"action": "stop_recording"}`, ActionStopRecording},
		{`{"action": "get_status"}`, ActionGetStatus},
	}

	for _, tc := range cases {
		cmd, err := ParseCommand([]byte(tc.raw))
		if err != nil {
			t.Errorf("ParseCommand(%s) failed: %v", tc.raw, err)
			continue
		}
		if cmd.Action != tc.action {
			t.Errorf("action = %q, want %q", cmd.Action, tc.action)
		}
	}
}

func TestParseCommandSetConsent(t *testing.T) {
	raw := `{
		"action": "set_consent",
		"consent": {
			"allow_recording": true,
			"allow_transcription": true,
			"allow_ai_processing": false,
			"allow_data_retention": true,
			"data_retention_period": 3600
		}
	}`

	cmd, err := ParseCommand([]byte(raw))
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}

	c := cmd.Consent
	if c == nil {
		t.Fatal("consent payload missing")
	}
	if !c.AllowRecording || !c.AllowTranscription || c.AllowAIProcessing || !c.AllowDataRetention {
		t.Errorf("unexpected consent flags: %+v", c)
	}
	if c.DataRetentionPeriod != 3600 {
		t.Errorf("retention period = %d, want 3600", c.DataRetentionPeriod)
	}
}

func TestParseCommandSetConsentWithoutPayload(t *testing.T) {
	_, err := ParseCommand([]byte(`{"action": "set_consent"}`))
	if !errors.Is(err, ErrMissingConsent) {
		t.Errorf("expected ErrMissingConsent, got %v", err)
	}
}

func TestParseCommandInvalidJSON(t *testing.T) {
	for _, raw := range []string{`not json at all`, `{"action":`, ``} {
		_, err := ParseCommand([]byte(raw))
		if !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("ParseCommand(%q): expected ErrInvalidJSON, got %v", raw, err)
		}
	}
}

func TestParseCommandUnknownAction(t *testing.T) {
	_, err := ParseCommand([]byte(`{"action": "reboot"}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestOutboundMessageShapes(t *testing.T) {
	status := Status("Recording started", "recording", "sess-1")
	data, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if m["type"] != "status" || m["audio_status"] != "recording" || m["user_id"] != "sess-1" {
		t.Errorf("unexpected status message: %v", m)
	}
	if _, present := m["transcript"]; present {
		t.Error("status message should omit transcript")
	}

	result := &analysis.Result{Summary: "ok", Topics: []string{"t"}}
	data, err = json.Marshal(Analysis("hello world", result))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	m = nil
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if m["type"] != "analysis" || m["transcript"] != "hello world" {
		t.Errorf("unexpected analysis message: %v", m)
	}
	if _, present := m["analysis"]; !present {
		t.Error("analysis message should carry the analysis object")
	}

	data, _ = json.Marshal(Error(MsgInvalidJSON))
	m = nil
	json.Unmarshal(data, &m)
	if m["type"] != "error" || m["message"] != "Invalid JSON format" {
		t.Errorf("unexpected error message: %v", m)
	}
}
