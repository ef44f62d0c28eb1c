package flow

import "time"

// Error represents a non-HTTP failure recorded on a Flow: a disconnect,
// timeout, or protocol error. Distinct from an HTTP error response,
// which is just a Response with an error-ish status code.
type Error struct {
	Msg       string
	Timestamp time.Time

	flow *Flow
}

// NewError returns an Error with Timestamp set to now.
func NewError(msg string) *Error {
	return &Error{Msg: msg, Timestamp: time.Now()}
}

// Flow returns the owning flow, or nil if unattached.
func (e *Error) Flow() *Flow { return e.flow }
