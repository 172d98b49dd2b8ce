package supervisor

import (
	"errors"
	"fmt"
)

// ErrBootstrapTimeout is returned when tor does not reach 100% within the startup timeout.
var ErrBootstrapTimeout = errors.New("tor bootstrap timed out")

// SpawnError reports that the tor executable could not be located or started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spawn tor: %v", e.Err)
	}
	return fmt.Sprintf("spawn tor %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitedError reports that tor exited before it finished bootstrapping.
type ExitedError struct {
	Code   int
	Status string
}

func (e *ExitedError) Error() string {
	return "tor exited early: " + e.Status
}
