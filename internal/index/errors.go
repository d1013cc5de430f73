package index

import "errors"

var (
	// ErrStore is matched by every StoreError.
	ErrStore = errors.New("store failure")
	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("index closed")
)

// StoreError wraps a failure of the underlying store. The store cannot be
// trusted after one, so callers treat it as fatal for the run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "index: " + e.Op + ": " + e.Err.Error()
}

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }
