// Package resilience provides bounded retry with backoff for upstream
// failures, chiefly the storage layer. A decision that has been computed must
// not be silently dropped because one write hit a transient fault.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// UpstreamFailure marks an error from an external collaborator (storage, the
// OCR service) as retryable.
type UpstreamFailure struct {
	Err error
}

func (e *UpstreamFailure) Error() string {
	return e.Err.Error()
}

func (e *UpstreamFailure) Unwrap() error {
	return e.Err
}

// NewUpstreamFailure wraps an error as a retryable upstream failure.
func NewUpstreamFailure(err error) *UpstreamFailure {
	return &UpstreamFailure{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is an
// UpstreamFailure, or matches the transient fault patterns databases and
// their drivers surface under contention or connection loss.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var uf *UpstreamFailure
	if errors.As(err, &uf) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped driver errors.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",
		"database table is locked",
		"connection reset by peer",
		"broken pipe",
		"conn busy",
		"connection refused",
		"i/o timeout",
		"too many connections",
		"the database system is starting up",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
