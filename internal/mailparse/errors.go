package mailparse

import "errors"

// ParseError marks a message whose raw bytes could not be parsed into a
// structured form. Callers log and skip the message; a parse failure
// never aborts the rest of a sync batch.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parsing message: " + e.Reason + ": " + e.Err.Error()
	}
	return "parsing message: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
