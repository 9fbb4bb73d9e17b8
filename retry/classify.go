package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/chartmesh/chartmesh/core"
)

// Transient markers shared by both classifiers. Matching is substring based
// on the lowercased error text, covering HTTP status wording from tool
// servers as well as generic network failures.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"503",
	"service unavailable",
	"temporar",
	"unreachable",
	"reset by peer",
	"broken pipe",
	"network",
}

// RetryableTool reports whether a tool call error is worth retrying:
// timeouts, network errors, 429/503-style statuses and generic temporary
// wording. Context cancellation is never retryable.
func RetryableTool(err error) bool {
	if err == nil || isCancellation(err) {
		return false
	}
	if errors.Is(err, core.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return matchesAny(err, transientMarkers)
}

// RetryableConnection classifies connection attempt errors. It accepts
// everything RetryableTool does plus generic "connection" wording, since
// connect paths commonly surface wrapped dial failures.
func RetryableConnection(err error) bool {
	if RetryableTool(err) {
		return true
	}
	if err == nil || isCancellation(err) {
		return false
	}
	return matchesAny(err, []string{"connection", "connect", "dial"})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func matchesAny(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
