package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/faithconnect/voice-gateway/internal/analysis"
)

// Inbound command actions.
const (
	ActionStartRecording = "start_recording"
	ActionStopRecording  = "stop_recording"
	ActionSetConsent     = "set_consent"
	ActionGetStatus      = "get_status"
)

// Outbound message types.
const (
	TypeStatus   = "status"
	TypeAnalysis = "analysis"
	TypeError    = "error"
)

// MsgInvalidJSON is the exact error text sent to a client whose command is
// not valid JSON.
const MsgInvalidJSON = "Invalid JSON format"

var (
	ErrInvalidJSON    = errors.New("invalid JSON command")
	ErrUnknownAction  = errors.New("unknown action")
	ErrMissingConsent = errors.New("set_consent requires a consent payload")
)

// ConsentPayload mirrors the client's consent preferences. The retention
// period is in seconds.
type ConsentPayload struct {
	AllowRecording      bool  `json:"allow_recording"`
	AllowTranscription  bool  `json:"allow_transcription"`
	AllowAIProcessing   bool  `json:"allow_ai_processing"`
	AllowDataRetention  bool  `json:"allow_data_retention"`
	DataRetentionPeriod int64 `json:"data_retention_period"`
}

// Command is a single inbound client message.
type Command struct {
	Action  string          `json:"action"`
	Consent *ConsentPayload `json:"consent,omitempty"`
}

// ParseCommand decodes and validates raw client input. A message that is
// not valid JSON wraps ErrInvalidJSON; a valid message with an unsupported
// action wraps ErrUnknownAction.
func ParseCommand(raw []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch cmd.Action {
	case ActionStartRecording, ActionStopRecording, ActionGetStatus:
	case ActionSetConsent:
		if cmd.Consent == nil {
			return nil, ErrMissingConsent
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	return &cmd, nil
}

// Message is a single outbound server message. Field presence depends on
// the type: status messages carry Message/AudioStatus/UserID, analysis
// messages carry Transcript/Analysis, error messages carry Message.
type Message struct {
	Type        string           `json:"type"`
	Message     string           `json:"message,omitempty"`
	AudioStatus string           `json:"audio_status,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Transcript  string           `json:"transcript,omitempty"`
	Analysis    *analysis.Result `json:"analysis,omitempty"`
}

// Status builds a status message.
func Status(text, audioStatus, userID string) *Message {
	return &Message{
		Type:        TypeStatus,
		Message:     text,
		AudioStatus: audioStatus,
		UserID:      userID,
	}
}

// Analysis builds the processed-utterance result message.
func Analysis(transcript string, result *analysis.Result) *Message {
	return &Message{
		Type:       TypeAnalysis,
		Transcript: transcript,
		Analysis:   result,
	}
}

// Error builds an error message.
func Error(text string) *Message {
	return &Message{
		Type:    TypeError,
		Message: text,
	}
}
