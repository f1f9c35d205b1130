package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Classifier reports whether an error is worth retrying and names its class.
type Classifier func(err error) (retryable bool, class string)

// Policy is a reusable bounded-retry policy with exponential backoff.
// The delay before attempt n (n >= 2) is BaseDelay * 2^(n-2).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    Classifier
}

// Default returns the policy used for network-facing mailbox operations:
// up to 3 attempts, backoff 1s then 2s.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Classify:    IsRetryableError,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. The last error is returned as-is.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	classify := p.Classify
	if classify == nil {
		classify = IsRetryableError
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable, _ := classify(err); !retryable {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// IsRetryableError determines if an error is retryable.
// Returns: (isRetryable, errorClass)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	errStr := strings.ToLower(err.Error())

	// Authentication and protocol failures are final.
	if strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "invalid credentials") ||
		strings.Contains(errStr, "login failed") {
		return false, "auth_error"
	}
	if strings.Contains(errStr, "protocol error") || strings.Contains(errStr, "parse error") {
		return false, "protocol_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") {
		return true, "connection_error"
	}

	return false, "unknown"
}
