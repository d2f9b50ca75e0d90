package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrTransport       = errors.New("transport error")
	ErrService         = errors.New("service error")
	ErrDecode          = errors.New("decode error")
	ErrUnauthenticated = errors.New("not authenticated")
)

// Kind classifies a failed call.
type Kind string

const (
	// KindTransport means no response was received (network, timeout, cancellation).
	KindTransport Kind = "transport"
	// KindService means the service answered with a non-2xx status.
	KindService Kind = "service"
	// KindDecode means a 2xx body did not match the expected shape.
	KindDecode Kind = "decode"
	// KindUnauthenticated means the call required a credential and none resolved.
	KindUnauthenticated Kind = "unauthenticated"
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindService:
		return ErrService
	case KindDecode:
		return ErrDecode
	case KindUnauthenticated:
		return ErrUnauthenticated
	default:
		return nil
	}
}

// NormalizedError is the single failure shape every gateway call converges on.
type NormalizedError struct {
	Kind     Kind
	Message  string
	Code     string
	Status   int
	Method   string
	Endpoint string

	cause error
}

func (e *NormalizedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Endpoint == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (%d)", e.Method, e.Endpoint, e.Message, e.Status)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Message)
}

func (e *NormalizedError) Unwrap() error { return e.cause }

// Is matches the kind sentinels, so callers can write errors.Is(err, gateway.ErrService).
func (e *NormalizedError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// AsNormalized extracts the NormalizedError from err, if any.
func AsNormalized(err error) (*NormalizedError, bool) {
	var ne *NormalizedError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if ne, ok := AsNormalized(err); ok {
		return ne.Status
	}
	return 0
}

// MessageOf returns the human readable message of err, preferring the service detail.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if ne, ok := AsNormalized(err); ok && ne.Message != "" {
		return ne.Message
	}
	return err.Error()
}
