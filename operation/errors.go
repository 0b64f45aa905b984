package operation

import (
	"errors"
	"fmt"
)

// ErrOperationInProgress is returned by Run while another run is active on the
// same executor.
var ErrOperationInProgress = errors.New("operation in progress")

// ErrSkipped marks devices that were not processed in multi-device mode
// because an earlier device failed and ContinueOnFailure is off.
var ErrSkipped = errors.New("skipped after earlier failure")

// PanicError wraps a panic raised by an operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}
