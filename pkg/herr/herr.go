// Package herr defines the stable error taxonomy returned across the
// hamsterdb package boundary, the way a caller of the original C API would
// switch on a numeric status code rather than on an error string.
package herr

import "fmt"

// Code is a stable, numeric error classification. Values are never
// renumbered once released, matching the original API's status code
// contract.
type Code int

const (
	// CodeUnknown is never returned; it's the zero value of Code.
	CodeUnknown Code = iota
	CodeKeyNotFound
	CodeDuplicateKey
	CodeInvalidKeySize
	CodeInvalidRecordSize
	CodeInvalidParameter
	CodeIOError
	CodeOutOfMemory
	CodeIntegrityViolated
	CodeNotImplemented
	CodeDatabaseAlreadyOpen
	CodeDatabaseNotFound
	CodeDatabaseAlreadyExists
	CodeTxnConflict
	CodeTxnNotFound
	CodeLogInvalid
	CodeNeedRecovery
	CodeCursorStillOpen
	CodeBlobNotFound
	CodeLimitsReached
	CodeAlreadyInitialized
	CodeEnvNotOpen
	CodePartialReadUnsupported
)

var codeNames = map[Code]string{
	CodeUnknown:                "unknown error",
	CodeKeyNotFound:            "key not found",
	CodeDuplicateKey:           "duplicate key",
	CodeInvalidKeySize:         "invalid key size",
	CodeInvalidRecordSize:      "invalid record size",
	CodeInvalidParameter:       "invalid parameter",
	CodeIOError:                "i/o error",
	CodeOutOfMemory:            "out of memory",
	CodeIntegrityViolated:      "integrity violated",
	CodeNotImplemented:         "not implemented",
	CodeDatabaseAlreadyOpen:    "database already open",
	CodeDatabaseNotFound:       "database not found",
	CodeDatabaseAlreadyExists:  "database already exists",
	CodeTxnConflict:            "transaction conflict",
	CodeTxnNotFound:            "transaction not found",
	CodeLogInvalid:             "log file is invalid",
	CodeNeedRecovery:           "recovery is required",
	CodeCursorStillOpen:        "cursor still open",
	CodeBlobNotFound:           "blob not found",
	CodeLimitsReached:          "limits reached",
	CodeAlreadyInitialized:     "already initialized",
	CodeEnvNotOpen:             "environment not open",
	CodePartialReadUnsupported: "partial read/write not supported in this configuration",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unrecognized error code"
}

// Error carries a Code plus an optional wrapped cause, so callers can
// either switch on herr.Code via errors.As or just print the error.
type Error struct {
	Code  Code
	Op    string // operation that failed, e.g. "btree.Insert"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no wrapped cause.
func New(op string, code Code) error {
	return &Error{Op: op, Code: code}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(op string, code Code, cause error) error {
	if cause == nil {
		return New(op, code)
	}
	return &Error{Op: op, Code: code, Cause: cause}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if he, ok := err.(*Error); ok {
			e = he
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Code == code
}
