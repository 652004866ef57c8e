// Package capture runs one goroutine per recording session that reads
// fixed-duration chunks from an audio device, detects utterance boundaries
// by amplitude-based silence, and hands finalized utterances to a sink.
// Chunk plaintext is hashed and encrypted as soon as the amplitude check is
// done; only ciphertext is buffered.
package capture
