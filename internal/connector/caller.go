package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/ratelimit"
	"github.com/research-os/ragd/internal/retry"
)

// Caller routes one source's outbound calls through its rate limiter and
// retry policy, and translates terminal failures into
// *domain.ExternalSourceError so callers never see raw transport errors.
type Caller struct {
	source  string
	limiter *ratelimit.Limiter
	retrier retry.Executor
	logger  *zap.Logger
}

// NewCaller builds a Caller for the named source. The retrier's RetryOn
// list is forced to the transient taxonomy; connectors classify their
// HTTP failures before returning them.
func NewCaller(source string, limiter *ratelimit.Limiter, retrier retry.Executor, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	retrier.RetryOn = []error{domain.ErrTransient, domain.ErrRateLimited}
	c := &Caller{
		source:  source,
		limiter: limiter,
		retrier: retrier,
		logger:  logger.With(zap.String("source", source)),
	}
	c.retrier.OnRetry = func(err error, attempt int) {
		c.logger.Warn("retrying source call",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return c
}

// Do acquires a rate-limit token, runs op with retries, and wraps any
// terminal failure. ErrNotFound and ErrValidation pass through untouched
// so callers can branch on them.
func (c *Caller) Do(ctx context.Context, op func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Consume(ctx, 1); err != nil {
			return fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	err := c.retrier.Do(ctx, op)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewExternalSourceError(c.source, "request failed", err)
}

// Call runs op through the caller and returns its value on success.
func Call[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ClassifyStatus maps an HTTP response status to the error taxonomy.
// Status codes below 400 return nil.
func ClassifyStatus(status int) error {
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", status, domain.ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("status %d: %w", status, domain.ErrNotFound)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("status %d: %w", status, domain.ErrTransient)
	default:
		return fmt.Errorf("status %d: %w", status, domain.ErrValidation)
	}
}

// ClassifyTransportError tags network-level failures (timeouts, refused
// connections, DNS) as transient. Context errors pass through.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}
