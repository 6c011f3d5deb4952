package queue

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Substrings that mark an infrastructure hiccup in driver error text. Driver
// errors rarely expose typed causes across redis, mongo and kafka clients, so
// signature matching is the common denominator.
var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"server selection error",
	"no reachable servers",
	"connection pool",
	"context deadline exceeded",
	"leader not available",
	"not connected",
}

// Classify reports whether the failure is worth re-driving. Handlers can force
// the decision by returning a TRANSIENT_INFRA code; everything else is judged
// by error shape and text.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	// Canceled covers shutdown: the envelope never ran to completion and
	// belongs back on its queue, not in the dead-letter list.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
