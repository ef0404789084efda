package domain

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned by message editors when the referenced
// channel or message no longer exists
var ErrMessageNotFound = errors.New("message not found")

// PortError wraps a failure of an external side effect
type PortError struct {
	Port string // "edit", "presence", "reply", "store"
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s port: %v", e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}
