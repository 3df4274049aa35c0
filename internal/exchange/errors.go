package exchange

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy a core-aware caller must distinguish (spec §7).
type Kind int

const (
	KindNone Kind = iota
	KindBadRequest
	KindNotFound
	KindNotModified
	KindMethodNotAllowed
	KindNotAcceptable
	KindInternalServerError
	KindServiceUnavailable
)

// Status returns the HTTP status code associated with a Kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindNotFound:
		return 404
	case KindNotModified:
		return 304
	case KindMethodNotAllowed:
		return 405
	case KindNotAcceptable:
		return 406
	case KindServiceUnavailable:
		return 503
	default:
		return 500
	}
}

// Error wraps a Kind with a human-readable message, used for the handful of
// failures the core itself raises (path validation, SSE preconditions, date
// parsing). Handler-level failures may be any error; Fail treats Kind-less
// errors as InternalServerError.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exchange: %v", e.Kind)
	}
	return e.Message
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, else
// KindInternalServerError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalServerError
}
