package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// ConflictError marks a duplicate-key write that persisted through the
// single in-place retry. It signals a race with a concurrent upsert of
// the same message; callers log and skip the message, the batch
// continues.
type ConflictError struct {
	TenantID string
	Key      string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store conflict for tenant %s on %s: %v", e.TenantID, e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
