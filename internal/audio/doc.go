// Package audio provides the input device abstraction, PCM helpers, and
// WAV containerization. Devices deliver fixed-duration chunks of mono
// PCM-16 samples; real microphone access stays behind an external capture
// command so no driver code lives in the service.
package audio
