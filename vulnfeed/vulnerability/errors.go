package vulnerability

import (
	"errors"
	"fmt"
)

// ErrNoConnection is wrapped by a StoreError when the repository was built
// without a database handle.
var ErrNoConnection = errors.New("database connection not available")

// StoreError reports a failed upsert or query. Nothing is retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
