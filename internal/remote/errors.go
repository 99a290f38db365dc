package remote

import (
	"fmt"
	"strings"
)

// Error describes a failed gateway operation and carries its cause.
type Error struct {
	Verb   string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Verb, e.Entity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Operation returns a short label such as "create_session".
func (e *Error) Operation() string {
	return e.Verb + "_" + strings.ReplaceAll(e.Entity, " ", "_")
}
