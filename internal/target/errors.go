package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTableNotFound is returned by Handle.Columns for a table the connected
// role cannot see.
var ErrTableNotFound = errors.New("table not found")

// Reason names why a target could not be opened.
type Reason string

const (
	ReasonInvalidSpec      Reason = "invalid_spec"
	ReasonDriverNotAllowed Reason = "driver_not_allowed"
	ReasonUnreachable      Reason = "unreachable"
	ReasonAuthRejected     Reason = "auth_rejected"
	ReasonTLSFailed        Reason = "tls_failed"
	ReasonRejected         Reason = "rejected"
)

// ConnectionError is the single error kind returned by Broker.Open.
type ConnectionError struct {
	Reason Reason
	Detail string
	// Temporary marks failures that may succeed when retried later.
	Temporary bool
	Cause     error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection %s", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// IsTemporary reports whether err is a ConnectionError worth retrying.
func IsTemporary(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Temporary
	}
	return isTransient(err)
}

func classify(err error) *ConnectionError {
	msg := strings.ToLower(err.Error())

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.Contains(msg, "ssl") || strings.Contains(msg, "encryption"):
			return &ConnectionError{Reason: ReasonTLSFailed, Cause: err}
		case strings.HasPrefix(pgErr.Code, "28"):
			return &ConnectionError{Reason: ReasonAuthRejected, Cause: err}
		case pgErr.Code == "57P03" || pgErr.Code == "53300":
			// cannot_connect_now, too_many_connections
			return &ConnectionError{Reason: ReasonUnreachable, Temporary: true, Cause: err}
		default:
			return &ConnectionError{Reason: ReasonRejected, Cause: err}
		}
	}

	if strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "ssl") {
		return &ConnectionError{Reason: ReasonTLSFailed, Cause: err}
	}
	return &ConnectionError{Reason: ReasonUnreachable, Temporary: isTransient(err), Cause: err}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// connection_exception class and admin shutdown
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01"
	}
	return false
}
