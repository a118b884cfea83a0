package poll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilImmediateSuccess(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Policy{Interval: time.Hour, MaxWait: time.Hour}, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUntilEventualSuccess(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Policy{Interval: time.Millisecond, MaxWait: time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilMaxAttempts(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 4}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
}

func TestUntilMaxWaitIsBounded(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), Policy{Interval: 20 * time.Millisecond, MaxWait: 100 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestUntilSleepCappedByRemaining(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), Policy{Interval: time.Hour, MaxWait: 50 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilCheckError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Until(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 10}, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := Until(ctx, Policy{Interval: 5 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilNotifiedWakesEarly(t *testing.T) {
	wake := make(chan struct{}, 1)
	calls := 0
	start := time.Now()
	err := UntilNotified(context.Background(), Policy{Interval: time.Hour, MaxWait: time.Hour}, wake, func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			wake <- struct{}{}
			return false, nil
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilBoundsStalledCheck(t *testing.T) {
	start := time.Now()
	var sawDeadline bool
	err := Until(context.Background(), Policy{Interval: time.Millisecond, MaxWait: 80 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		_, sawDeadline = ctx.Deadline()
		<-ctx.Done()
		return false, fmt.Errorf("find: %w", ctx.Err())
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.True(t, sawDeadline, "check context should carry the MaxWait deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilStalledCheckReportsParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := Until(ctx, Policy{Interval: time.Millisecond, MaxWait: time.Hour}, func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
