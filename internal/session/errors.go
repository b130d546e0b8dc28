package session

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb/randr"
)

var (
	// ErrStaleTimestamp means the screen's configuration timestamp is, or
	// is about to be, out of date.
	ErrStaleTimestamp = errors.New("stale configuration timestamp")
	// ErrRequestExpired is reported for a request that never got a reply.
	ErrRequestExpired = errors.New("request expired without a reply")
)

// ProtocolError is a request the server answered with an X error.
type ProtocolError struct {
	Kind Kind
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RejectedError is a SetScreenConfig reply with a failure status.
type RejectedError struct {
	Status byte
}

func (e *RejectedError) Error() string {
	switch e.Status {
	case randr.SetConfigInvalidConfigTime:
		return "configuration change rejected: stale configuration timestamp"
	case randr.SetConfigInvalidTime:
		return "configuration change rejected: stale request timestamp"
	case randr.SetConfigFailed:
		return "configuration change rejected: mode not applicable"
	}
	return fmt.Sprintf("configuration change rejected: status %d", e.Status)
}

// Is matches ErrStaleTimestamp for the two timestamp statuses.
func (e *RejectedError) Is(target error) bool {
	if target != ErrStaleTimestamp {
		return false
	}
	return e.Status == randr.SetConfigInvalidConfigTime || e.Status == randr.SetConfigInvalidTime
}
