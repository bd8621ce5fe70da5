// Package retry bounds every ledger and goal-store mutation with a fixed
// retry budget. Wrapped operations must be idempotent at the storage layer
// (upsert / conditional-increment) because a retry may follow a write that
// succeeded but whose acknowledgment was lost.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	maxAttempts = 3
	delay       = 100 * time.Millisecond
)

// Executor re-invokes a single logical mutation on transient storage errors.
type Executor struct {
	attempts uint64
	delay    time.Duration
}

// NewExecutor returns the standard 3-attempt, 100ms, no-jitter executor.
func NewExecutor() *Executor {
	return &Executor{attempts: maxAttempts, delay: delay}
}

// Do runs op up to the attempt budget. Validation, not-found and conflict
// errors surface immediately; only transient (connection/timeout class)
// failures are retried. After the budget is spent the last error is wrapped
// as OperationFailed.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(e.attempts-1, retry.NewConstant(e.delay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"op":      name,
			"attempt": attempt,
		}).WithError(err).Warn("Transient storage error, retrying")
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if !IsTransient(err) {
		return err
	}
	return &apperrors.OperationFailedError{Op: name, Last: err}
}

// IsTransient classifies storage errors worth re-invoking: driver-reported
// network and timeout failures, context deadlines, and anything explicitly
// tagged via apperrors.Transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.IsValidation(err) || apperrors.IsNotFound(err) {
		return false
	}
	if apperrors.IsTransient(err) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
