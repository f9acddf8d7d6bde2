package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Sentinel errors classifying backend failures. Callers decide fallback
// behavior with errors.Is rather than string matching.
var (
	// ErrNotConfigured means no API key or provider was supplied.
	ErrNotConfigured = errors.New("llm: backend not configured")

	// ErrTimeout means the backend did not answer in time.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrQuota means the backend rejected the call for rate or quota reasons.
	ErrQuota = errors.New("llm: quota or rate limit exceeded")

	// ErrMalformed means the backend answered but the payload was unusable.
	ErrMalformed = errors.New("llm: malformed backend response")
)

// Classify maps a raw provider error onto the taxonomy. Unrecognized
// errors pass through unchanged so nothing is silently relabeled.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return errors.Join(ErrQuota, err)
	case strings.Contains(msg, "deadline"), strings.Contains(msg, "timeout"):
		return errors.Join(ErrTimeout, err)
	}
	return err
}
