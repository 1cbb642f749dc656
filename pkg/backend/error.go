package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindMalformed   Kind = "malformed"
)

// Error wraps provider errors with status metadata.
type Error struct {
	Kind      Kind
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (status=%d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Unavailable builds an unavailable error.
func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Err: err}
}

// Malformed builds a malformed-response error.
func Malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// statusError maps an HTTP status to a typed error.
func statusError(status int, err error) *Error {
	e := &Error{Kind: KindUnavailable, Status: status, Err: err}
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
		e.Temporary = true
	case status == http.StatusTooManyRequests || status >= 500:
		e.Temporary = true
	}
	return e
}

// KindOf reports the failure kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnavailable
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Temporary || be.Kind == KindTimeout {
			return true
		}
		if be.Status == 429 || (be.Status >= 500 && be.Status <= 599) {
			return true
		}
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
