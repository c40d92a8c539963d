package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by the direct send path when the session is
	// not CONNECTED. Callers queue through the offline cache instead.
	ErrNotConnected = errors.New("chat: session is not connected")

	// ErrClosed is returned for any operation on a closed session or handle.
	ErrClosed = errors.New("chat: closed")
)

// TransportError wraps a realtime transport failure (connect, read, track).
// It drives the session's backoff and is surfaced to the UI only as an
// aggregate connection status, never per event.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed message insert or history fetch. Send
// failures are returned to the caller exactly once and never retried inside
// the core, to avoid duplicate sends.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError reports an insert whose id was already accepted with
// different field values. Messages are immutable, so the stored value wins;
// the conflict is observable but never aborts event processing.
type ConflictError struct {
	Id string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chat: conflicting payload for message id %s", e.Id)
}
