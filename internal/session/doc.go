// Package session owns the registry of connected clients and their state
// machine: a session connects, idles, may record, and eventually
// disconnects. The manager routes client commands, fans results out to
// transports, and prunes sessions whose transport has died.
package session
