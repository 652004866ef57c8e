// Package protocol defines the JSON messages exchanged with websocket
// clients: inbound commands with their validation, and the outbound
// status, analysis, and error message shapes.
package protocol
