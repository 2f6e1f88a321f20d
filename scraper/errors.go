package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// NoResultsMessage is the error text sent to clients for ErrNoResults.
const NoResultsMessage = "No results"

// ErrNoResults is returned when a stream ends without a result payload.
var ErrNoResults = errors.New("no results")

// ErrTimeout indicates the per-source budget ran out.
type ErrTimeout struct {
	After time.Duration
	Err   error
}

func (e ErrTimeout) Error() string {
	if e.After <= 0 {
		return "Timeout"
	}
	if e.After%time.Second == 0 {
		return fmt.Sprintf("Timeout (%ds)", int64(e.After/time.Second))
	}
	return fmt.Sprintf("Timeout (%s)", e.After)
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network failure reaching the backend.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrStatus indicates a non-2xx response from the backend.
type ErrStatus struct {
	Code int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// ErrDecode indicates a frame that could not be decoded.
type ErrDecode struct {
	Err error
}

func (e ErrDecode) Error() string {
	return fmt.Errorf("decode: %w", e.Err).Error()
}

func (e ErrDecode) Unwrap() error {
	return e.Err
}

// ErrUpstream carries an error message reported inside the stream.
type ErrUpstream struct {
	Message string
}

func (e ErrUpstream) Error() string {
	return e.Message
}

// classifyError maps transport failures to typed errors. Errors that are
// already typed pass through unchanged.
func classifyError(err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if errorTypeLabel(err) != "other" {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{After: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{After: timeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrConnection{Err: err}
	}
	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "status"
	}
	var decode ErrDecode
	if errors.As(err, &decode) {
		return "decode"
	}
	var upstream ErrUpstream
	if errors.As(err, &upstream) {
		return "upstream"
	}
	if errors.Is(err, ErrNoResults) {
		return "no_results"
	}
	return "other"
}
