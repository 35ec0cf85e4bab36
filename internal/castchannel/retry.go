package castchannel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 200 * time.Millisecond
	defaultRetryMaxBackoff  = 2 * time.Second
)

type retryPolicy struct {
	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// do runs call until it succeeds, fails with a non-transient error, or the
// attempts are exhausted. Backoff doubles per attempt up to maxBackoff.
func (p retryPolicy) do(ctx context.Context, operation string, call func() error) error {
	attempts := max(p.attempts, 1)
	backoff := max(p.baseBackoff, 0)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !isTransientNetworkError(lastErr) {
			break
		}

		p.logger.Warn(
			"cast_retry",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)
		if err := sleepContext(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, max(p.maxBackoff, p.baseBackoff))
	}
	return lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var transientPatterns = []string{
	"timeout",
	"temporar",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
	"tls handshake",
}

func isTransientNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
