package errors

import stderrors "errors"

// Error is a coded failure crossing the request boundary. Message is for
// logs; clients see Code, Metadata, and a localized text for Code.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so sentinels compare by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// Public reports whether Message and Metadata may be shown to clients.
func (e *Error) Public() bool {
	return e.Code != CodeInternal && e.Code != CodeUnknown
}

// New returns a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata returns a coded error carrying client-visible metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap returns a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// From returns the first *Error in err's chain. An uncoded or UNKNOWN error
// comes back as INTERNAL wrapping err.
func From(err error) *Error {
	var target *Error
	if !stderrors.As(err, &target) || target.Code == CodeUnknown {
		return Wrap(CodeInternal, "internal error", err)
	}
	return target
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var target *Error
	if stderrors.As(err, &target) {
		return target.Code
	}
	return CodeUnknown
}
