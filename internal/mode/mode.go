// Package mode implements the client's global state machine: SLEEPING,
// LISTENING, PROCESSING. The allowed transitions are encoded as a data table;
// the controller is a pure function of (current mode, request) plus the
// events it publishes. Requests with source "interrupt" override the table
// and always land in SLEEPING.
package mode

import "time"

// Mode is the client's global state. Exactly one mode is active at any time.
type Mode string

const (
	Sleeping   Mode = "SLEEPING"
	Listening  Mode = "LISTENING"
	Processing Mode = "PROCESSING"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case Sleeping, Listening, Processing:
		return true
	}
	return false
}

// transitions is the allowed-transition table. SLEEPING→PROCESSING exists
// only for the greeting path; PROCESSING→LISTENING is deliberately absent —
// a finished request always passes through SLEEPING first.
var transitions = map[Mode][]Mode{
	Sleeping:   {Listening, Processing},
	Listening:  {Processing, Sleeping},
	Processing: {Sleeping},
}

// Allowed reports whether the table permits from→to. Same-mode pairs are not
// in the table; callers treat them as no-ops, not violations.
func Allowed(from, to Mode) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// NewSessionID returns the wall-clock session identifier for a push-to-talk
// interaction starting now: milliseconds since the Unix epoch.
func NewSessionID() int64 {
	return time.Now().UnixMilli()
}
