package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("wrapped: %w", ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryDoesNotRetryBusinessErrors(t *testing.T) {
	boom := errors.New("insufficient")
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	var seen []int
	policy := fastPolicy(3)
	policy.OnConflict = func(attempt int, _ error) { seen = append(seen, attempt) }
	err := Retry(context.Background(), policy, func(context.Context) error {
		return ErrConflict
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestClassifySerializationFailure(t *testing.T) {
	err := Classify(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}))
	require.ErrorIs(t, err, ErrConflict)

	err = Classify(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	require.ErrorIs(t, err, ErrConflict)

	other := &pgconn.PgError{Code: "23505"}
	require.Equal(t, error(other), Classify(other))
	require.NoError(t, Classify(nil))
}
