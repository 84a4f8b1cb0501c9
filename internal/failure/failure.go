// Package failure defines the closed set of error kinds shared by the backend
// client, the workflow services and the HTTP layer, and the table that maps
// each kind to a presentation channel and a user-facing message.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	Validation   Kind = "validation"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	NotFound     Kind = "not_found"
	Conflict     Kind = "conflict"
	RateLimited  Kind = "rate_limited"
	Rejected     Kind = "rejected"
	Server       Kind = "server"
	Network      Kind = "network"
)

type Error struct {
	Kind       Kind
	Message    string
	Code       string
	Status     int
	RetryAfter time.Duration
	Timeout    bool
	// Channel overrides the presentation table when set.
	Channel Channel
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Invalid(message string) *Error { return New(Validation, message) }

func Missing(message string) *Error { return New(NotFound, message) }

func Busy(message string) *Error { return New(Conflict, message) }

func Throttled(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfter: retryAfter}
}

// WithChannel returns a copy of err's failure with its presentation channel
// forced to ch. Errors outside this package become Server failures.
func WithChannel(err error, ch Channel) error {
	if err == nil {
		return nil
	}
	fe, ok := As(err)
	if !ok {
		return &Error{Kind: Server, Channel: ch, Err: err}
	}
	cp := *fe
	cp.Channel = ch
	return &cp
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf classifies err. Errors outside this package are Server errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return Server
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus maps a non-2xx HTTP status to a kind.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status == http.StatusForbidden:
		return Forbidden
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusConflict:
		return Conflict
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500:
		return Server
	default:
		return Validation
	}
}

// HTTPStatus is the status the portal answers with for kind.
func HTTPStatus(kind Kind, timeout bool) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Rejected:
		return http.StatusUnprocessableEntity
	case Network:
		if timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
