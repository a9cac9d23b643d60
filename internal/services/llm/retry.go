package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finalcut/internal/services"
)

func (c *Client) completeWithRetry(ctx context.Context, payload chatCompletionRequest, op string) (string, error) {
	attempts := max(c.retryMaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, body, err := c.send(ctx, payload)
		if err == nil {
			content, finish, refusal := completion.content()
			if content != "" {
				return content, nil
			}
			if len(completion.Choices) == 0 {
				err = fmt.Errorf("%s: empty choices", op)
			} else {
				err = &emptyContentError{op: op, finishReason: finish, refusal: refusal, snippet: snippet(string(body))}
			}
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err)
		if !retry || attempt == attempts {
			break
		}
		if err := c.sleep(ctx, delay(attempt)); err != nil {
			return "", err
		}
	}
	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		return "", fmt.Errorf("%s: %w", op, lastErr)
	}
	var netErr net.Error
	if errors.As(lastErr, &netErr) {
		return "", services.Wrap(services.ErrNetwork, "", op, "", lastErr)
	}
	return "", fmt.Errorf("%s: failed after %d attempt(s): %w", op, attempts, lastErr)
}

// retryDelay decides whether err is worth another attempt and returns the
// delay to use for a given 1-based attempt.
func (c *Client) retryDelay(ctx context.Context, err error) (func(int) time.Duration, bool) {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, false
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return c.backoff, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.retryable() {
			return nil, false
		}
		if statusErr.RetryAfter > 0 {
			return func(int) time.Duration { return c.capDelay(statusErr.RetryAfter) }, true
		}
		return c.backoff, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoff, true
	}
	return nil, false
}

// backoff doubles from the base delay: attempt 1 -> base, 2 -> 2*base, ...
func (c *Client) backoff(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.retryMaxDelay > 0 && delay >= c.retryMaxDelay {
			break
		}
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
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

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
