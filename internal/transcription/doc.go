// Package transcription converts finalized utterances to text through the
// Whisper API. The client keeps simple success/failure statistics for the
// monitoring endpoints.
package transcription
