// Package server exposes the websocket session endpoint and the HTTP
// monitoring API. The websocket handler owns the connection lifecycle:
// upgrade, session registration, keepalive pings, and the read loop that
// feeds client commands to the session manager.
package server
