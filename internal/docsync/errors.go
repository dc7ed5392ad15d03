package docsync

import (
	"errors"
	"fmt"

	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/protocol"
	"collabnotes/api/internal/store"
)

var ErrClosed = errors.New("document handle closed")

// RejectedError reports a command the actor refused. State is untouched and
// the rejection is only ever reported to the originating member.
type RejectedError struct {
	Code string
	Err  error
}

func (e *RejectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func reject(code string, err error) error {
	return &RejectedError{Code: code, Err: err}
}

// rejectionCode maps an error to its wire code.
func rejectionCode(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Code
	}
	var outOfRange *delta.OutOfRangeError
	switch {
	case errors.As(err, &outOfRange):
		return protocol.CodeOutOfRange
	case errors.Is(err, delta.ErrMalformedEdit):
		return protocol.CodeMalformedEdit
	case errors.Is(err, store.ErrNotFound):
		return protocol.CodeNotFound
	default:
		return protocol.CodeStore
	}
}
