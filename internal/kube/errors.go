package kube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrType classifies cluster errors so callers can pick a visibility policy.
type ErrType int

const (
	ErrUnknown           ErrType = iota
	ErrClientUnavailable         // kubeconfig missing or client could not be built
	ErrPermissionDenied          // 401/403
	ErrConnectionFailed          // dial, DNS, TLS, 5xx
	ErrTimeout                   // deadline exceeded, i/o timeout, 504
	ErrNotFound                  // 404
	ErrConflict                  // 409
	ErrValidationFailed          // 400/422, syntax or dry-run rejection
)

func (t ErrType) String() string {
	switch t {
	case ErrClientUnavailable:
		return "ClientUnavailable"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrConnectionFailed:
		return "ConnectionFailed"
	case ErrTimeout:
		return "Timeout"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrValidationFailed:
		return "ValidationFailed"
	default:
		return "Unknown"
	}
}

// Error is a classified cluster error. Message is short and user facing,
// Detail carries the raw API/transport text for the log.
type Error struct {
	Type    ErrType
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TypeOf returns the classification of err, classifying it on the fly when
// it is not already a *Error.
func TypeOf(err error) ErrType {
	if err == nil {
		return ErrUnknown
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Type
	}
	return Classify(err).(*Error).Type
}

// ClientUnavailable wraps a client construction failure.
func ClientUnavailable(contextName string, err error) error {
	return &Error{
		Type:    ErrClientUnavailable,
		Message: fmt.Sprintf("cluster client for %q is unavailable", contextName),
		Detail:  errString(err),
		Err:     err,
	}
}

// Classify converts a raw client-go error into an *Error. Already classified
// errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr
	}

	detail := err.Error()

	if errors.Is(err, context.DeadlineExceeded) || apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
		return &Error{Type: ErrTimeout, Message: "request timed out", Detail: detail, Err: err}
	}

	var statusErr apierrors.APIStatus
	if errors.As(err, &statusErr) {
		status := statusErr.Status()
		switch {
		case apierrors.IsUnauthorized(err):
			return &Error{Type: ErrPermissionDenied, Message: "unauthorized: credentials rejected, log in again", Detail: detail, Err: err}
		case apierrors.IsForbidden(err):
			return &Error{Type: ErrPermissionDenied, Message: "forbidden: check RBAC permissions", Detail: status.Message, Err: err}
		case apierrors.IsNotFound(err):
			return &Error{Type: ErrNotFound, Message: "resource not found", Detail: status.Message, Err: err}
		case apierrors.IsConflict(err):
			return &Error{Type: ErrConflict, Message: "resource was modified concurrently", Detail: status.Message, Err: err}
		case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
			return &Error{Type: ErrValidationFailed, Message: "rejected by the API server", Detail: status.Message, Err: err}
		case status.Code >= 500:
			return &Error{Type: ErrConnectionFailed, Message: fmt.Sprintf("server error (%d)", status.Code), Detail: status.Message, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Type: ErrTimeout, Message: "request timed out", Detail: detail, Err: err}
	}

	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "i/o timeout"), strings.Contains(lower, "tls handshake timeout"),
		strings.Contains(lower, "deadline exceeded"):
		return &Error{Type: ErrTimeout, Message: "request timed out", Detail: detail, Err: err}
	case strings.Contains(lower, "dial tcp"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connection refused"), strings.Contains(lower, "x509"),
		strings.Contains(lower, "certificate"), strings.Contains(lower, "connection reset"):
		return &Error{Type: ErrConnectionFailed, Message: "cluster unreachable", Detail: detail, Err: err}
	}

	return &Error{Type: ErrUnknown, Message: detail, Detail: detail, Err: err}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
