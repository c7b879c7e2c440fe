package connection

import (
	"fmt"
	"time"
)

// State is the authoritative connection state of a Manager.
type State uint8

const (
	// StateIdle means the manager was constructed but has not dialled yet.
	StateIdle State = iota

	// StateConnecting means the first attempt is in flight.
	StateConnecting

	// StateConnected means the transport handshake succeeded.
	StateConnected

	// StateDisconnected means the transport closed, or a manual disconnect happened.
	StateDisconnected

	// StateReconnecting means a retry attempt is in flight after a failure.
	StateReconnecting

	// StateError means the last attempt failed with a transport error.
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateReconnecting: "reconnecting",
	StateError:        "error",
}

// String returns the lower-case state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateIdle, fmt.Errorf("connection: unknown state %q", name)
}

// InFlight reports whether an attempt is in progress.
func (s State) InFlight() bool {
	return s == StateConnecting || s == StateReconnecting
}

// RetryState bundles the retry counter with the time of the next attempt.
// It is only ever replaced as a whole.
type RetryState struct {
	// Count is the number of consecutive failed or closed attempts.
	Count int

	// NextAt is when the next attempt is (or was) due. Zero when none is scheduled.
	NextAt time.Time
}

// Scheduled reports whether a retry time is set.
func (r RetryState) Scheduled() bool {
	return !r.NextAt.IsZero()
}

// Status is an immutable snapshot of a manager.
type Status struct {
	Name             string
	State            State
	Retry            RetryState
	LastError        error
	ManualDisconnect bool
	Subscriptions    int
	Since            time.Time
}

// RetryIn returns the time left until the next retry relative to now,
// clamped at zero.
func (s Status) RetryIn(now time.Time) time.Duration {
	if !s.Retry.Scheduled() {
		return 0
	}
	d := s.Retry.NextAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
