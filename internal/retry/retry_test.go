package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceedsAfterTransientFailures(t *testing.T) {
	executor := NewExecutor()

	attempts := 0
	err := executor.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apperrors.Transient(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	executor := NewExecutor()

	attempts := 0
	wantErr := apperrors.NewValidation("quantity", "quantity must be positive")
	err := executor.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		return wantErr
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.NotErrorIs(t, err, apperrors.ErrOperationFailed)
}

func TestNotFoundErrorsAreNotRetried(t *testing.T) {
	executor := NewExecutor()

	attempts := 0
	err := executor.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		return apperrors.ErrNotFound
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExhaustionWrapsAsOperationFailed(t *testing.T) {
	executor := NewExecutor()

	attempts := 0
	err := executor.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		return apperrors.Transient(errors.New("timeout"))
	})

	assert.Equal(t, 3, attempts)
	require.ErrorIs(t, err, apperrors.ErrOperationFailed)

	var opErr *apperrors.OperationFailedError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "test.op", opErr.Op)
}

func TestIsTransientClassification(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(apperrors.ErrNotFound))
	assert.False(t, IsTransient(apperrors.NewValidation("x", "bad")))
	assert.True(t, IsTransient(apperrors.Transient(errors.New("conn refused"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}
