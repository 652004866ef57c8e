// Package dispatch processes finalized utterances: decrypt, verify,
// consent-check, transcribe, consent-check again, analyze, deliver. Each
// session has its own FIFO queue and worker goroutine, so one slow or
// failing utterance never blocks other sessions, and a failure on one
// utterance never stops its session's worker.
package dispatch
