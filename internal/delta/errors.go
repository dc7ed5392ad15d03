package delta

import (
	"errors"
	"fmt"
)

// ErrMalformedEdit matches every error that makes an edit unusable, whether
// it failed to parse or does not fit the content it targets.
var ErrMalformedEdit = errors.New("malformed edit")

// FormatError reports an operation record that cannot be turned into an Op.
// Index is -1 when the envelope itself is wrong.
type FormatError struct {
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("delta: %s", e.Reason)
	}
	return fmt.Sprintf("delta: op %d: %s", e.Index, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrMalformedEdit
}

// OutOfRangeError reports an edit that retains or deletes past the end of
// the content it was composed onto.
type OutOfRangeError struct {
	Length int
	Span   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("delta: edit spans %d positions but content length is %d", e.Span, e.Length)
}

func (e *OutOfRangeError) Unwrap() error {
	return ErrMalformedEdit
}
