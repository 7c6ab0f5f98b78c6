// Package rpcerr defines the named error kinds that can cross the RPC wire
// and the envelope used to carry them.
package rpcerr

import "fmt"

// Kind names a failure category a caller can switch on. These mirror the
// exception hierarchy in the original dao.common.exceptions module.
type Kind string

const (
	Timeout                   Kind = "Timeout"
	NotFound                  Kind = "NotFound"
	ManyFound                 Kind = "ManyFound"
	ExecError                 Kind = "ExecError"
	DBDuplicateEntry          Kind = "DBDuplicateEntry"
	DBDeadlock                Kind = "DBDeadlock"
	DBInvalidUnicodeParameter Kind = "DBInvalidUnicodeParameter"
	DBError                   Kind = "DBError"
	DBConnectionError         Kind = "DBConnectionError"
	Generic                   Kind = "Generic"
)

// ExecDetail carries the subprocess failure fields from a wrapped
// DAOExecError: return code, stdout, stderr.
type ExecDetail struct {
	ReturnCode int    `yaml:"return_code" msgpack:"return_code"`
	Stdout     string `yaml:"stdout"      msgpack:"stdout"`
	Stderr     string `yaml:"stderr"      msgpack:"stderr"`
}

// Error is the error envelope marshalled on the reply path: a kind tag,
// a human-readable message, and an optional status code.
type Error struct {
	Kind       Kind        `yaml:"kind"                  msgpack:"kind"`
	Message    string      `yaml:"message"                msgpack:"message"`
	StatusCode *int        `yaml:"status_code,omitempty"  msgpack:"status_code,omitempty"`
	Exec       *ExecDetail `yaml:"exec,omitempty"         msgpack:"exec,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a plain error envelope of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStatusCode attaches an optional numeric status code and returns the
// same envelope for chaining.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = &code
	return e
}

// NewExecError builds the ExecError envelope carrying subprocess detail,
// matching original_source's DAOExecError message format.
func NewExecError(returnCode int, stdout, stderr string) *Error {
	return &Error{
		Kind:    ExecError,
		Message: fmt.Sprintf("Execution error. Return code: %d, stderr: %s", returnCode, stderr),
		Exec:    &ExecDetail{ReturnCode: returnCode, Stdout: stdout, Stderr: stderr},
	}
}

// FromError wraps an arbitrary Go error as a Generic envelope, unless it is
// already an *Error, in which case it is returned unchanged -- this is the
// path the dispatcher uses when a handler panics or returns a plain error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: Generic, Message: err.Error()}
}

// Is reports whether err is an *Error of the given kind, so callers can
// branch the way spec.md §8 describes ("the client raises an exception of
// the same kind").
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
