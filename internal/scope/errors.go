package scope

import "fmt"

// ErrorKind classifies a rejected selection.
type ErrorKind string

const (
	Empty         ErrorKind = "empty"
	Invalid       ErrorKind = "invalid"
	StartAfterEnd ErrorKind = "start_after_end"
	OverLimit     ErrorKind = "over_limit"
	UnknownMode   ErrorKind = "unknown_mode"
)

// Error is returned for any selection that cannot be turned into a Scope.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("scope: %s", e.Kind)
	}
	return fmt.Sprintf("scope: %s: %s", e.Kind, e.Detail)
}
