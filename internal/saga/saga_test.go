package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Millisecond,
		MaxAttempts:        3,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	cause := NonRetryablef("bad input")
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNonRetryable(err))
}

func TestRetrySentinelsAreNonRetryable(t *testing.T) {
	for _, sentinel := range []error{ErrBillingKeyNotFound, ErrResourceNotFound, ErrInvalidArgument} {
		calls := 0
		err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
			calls++
			return fmt.Errorf("lookup: %w", sentinel)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "sentinel %v must not be retried", sentinel)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("still broken")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "attempts exhausted")
}

func TestCompensateRunsInReverseOrder(t *testing.T) {
	var ran []string
	c := NewCompensations(fastPolicy())
	c.Add("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	c.Add("second", func(context.Context) error {
		ran = append(ran, "second")
		return nil
	})
	c.Add("third", func(context.Context) error {
		ran = append(ran, "third")
		return nil
	})

	c.Compensate(context.Background())
	assert.Equal(t, []string{"third", "second", "first"}, ran)
}

func TestCompensateContinuesPastFailures(t *testing.T) {
	var ran []string
	c := NewCompensations(RetryPolicy{InitialInterval: time.Millisecond, BackoffCoefficient: 1, MaxAttempts: 1})
	c.Add("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	c.Add("second", func(context.Context) error {
		ran = append(ran, "second")
		return errors.New("boom")
	})

	c.Compensate(context.Background())
	assert.Equal(t, []string{"second", "first"}, ran)
}
