package canonical

import (
	"errors"
	"fmt"
)

// ErrNotSerializable is matched by every *EncodingError via errors.Is.
var ErrNotSerializable = errors.New("value is not canonically serializable")

// EncodingError reports a value that cannot be represented canonically.
// Path uses a JSONPath-like notation rooted at "$".
type EncodingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canonical encoding failed at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("canonical encoding failed at %s: %s", e.Path, e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrNotSerializable }

func encodingError(path, reason string, err error) *EncodingError {
	if path == "" {
		path = "$"
	}
	return &EncodingError{Path: path, Reason: reason, Err: err}
}
