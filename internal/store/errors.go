package store

import (
	"errors"
	"fmt"
)

// Lookup error codes reported by backends.
const (
	CodeSiteNotFound    = "siteNotFound"
	CodeLibraryNotFound = "libraryNotFound"
	CodeItemNotFound    = "itemNotFound"
	CodeInvalidRequest  = "invalidRequest"
	CodeAccessDenied    = "accessDenied"
)

// LookupError reports that a site, library or item could not be resolved.
type LookupError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *LookupError) Unwrap() error { return e.Err }

// TransferError reports a range download or slice upload that did not complete.
// Received is the number of bytes transferred before the failure.
type TransferError struct {
	Op       string
	Path     string
	Offset   int64
	Received int64
	Err      error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s %s failed at offset %d (%d bytes transferred)", e.Op, e.Path, e.Offset, e.Received)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// ErrUploadIncomplete is wrapped by a TransferError when a session reports
// the upload did not succeed.
var ErrUploadIncomplete = errors.New("upload did not succeed")

// ErrAlreadyExists is returned by sessions opened with ConflictFail when the
// destination is taken.
var ErrAlreadyExists = errors.New("destination already exists")

// IsLookup reports whether err is, or wraps, a LookupError.
func IsLookup(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// IsTransfer reports whether err is, or wraps, a TransferError.
func IsTransfer(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// NotFound builds a LookupError with the given code.
func NotFound(op, code, format string, args ...any) *LookupError {
	return &LookupError{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}
