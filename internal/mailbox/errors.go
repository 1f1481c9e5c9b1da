package mailbox

import (
	"errors"
	"fmt"
)

// ConnectionError marks a network, TLS, or authentication failure on
// the mailbox session. It is fatal for the current sync run: the run
// aborts (after a best-effort logout) and the scheduler retries on the
// next cycle, never mid-run.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
