// Package envelope provides the encryption envelope for captured audio.
// It wraps AES-256-GCM encryption with a persisted key file, content hashing
// for integrity verification, and secure identifier generation for stored
// artifacts.
package envelope
