// Package consent tracks per-session consent preferences and authorizes
// privileged operations against them. Records are volatile: they live for
// the duration of a session and are forgotten on disconnect.
package consent
