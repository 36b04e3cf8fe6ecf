package adapter

import (
	"errors"
	"fmt"
)

// Query and hook errors
var (
	ErrUnknownModel = errors.New("unknown model")          // 500 (misconfigured caller)
	ErrInvalidQuery = errors.New("invalid query filter")   // 400
	ErrHookAborted  = errors.New("operation aborted by hook") // 400 unless the hook supplied its own
)

// WriteError wraps a backend failure on create/update/delete. The underlying
// cause is for logs only and must never reach an HTTP response.
type WriteError struct {
	Model string
	Op    Operation
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("adapter: %s on %q failed: %v", e.Op, e.Model, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
