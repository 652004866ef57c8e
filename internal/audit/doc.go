// Package audit writes security-relevant events to an append-only JSON
// lines file. The trail is write-only from the service's point of view;
// nothing in the process reads it back.
package audit
