// Package analysis produces structured semantic analysis of transcripts
// through a chat-completion collaborator. Responses are strict JSON; a
// reply that does not match the schema is an error, never guessed at.
package analysis
