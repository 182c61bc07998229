package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
	return New(append(base, opts...)...)
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsOnPermanent(t *testing.T) {
	calls := 0
	cause := errors.New("bad query")
	err := fastRetrier(WithMaxAttempts(5)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetrier_RespectsPredicate(t *testing.T) {
	calls := 0
	notTransient := errors.New("syntax error")
	r := fastRetrier(WithMaxAttempts(4), WithRetryIf(func(err error) bool {
		return errors.Is(err, errTransient)
	}))

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return notTransient
	})

	assert.ErrorIs(t, err, notTransient)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ReturnsLastErrorWhenExhausted(t *testing.T) {
	var retries []int
	r := fastRetrier(WithMaxAttempts(3), WithOnRetry(func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}))

	err := r.Do(context.Background(), func(ctx context.Context) error { return errTransient })

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetrier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastRetrier().Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_CappedAtMax(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 3*time.Second, r.delay(5))
}
