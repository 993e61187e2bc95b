package errors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failNTimes returns a func that errors for the first n calls and a
// pointer to the call counter.
func failNTimes(n int) (func() error, *int) {
	calls := new(int)
	return func() error {
		*calls++
		if *calls <= n {
			return errors.New("transient")
		}
		return nil
	}, calls
}

// fastRetry is a config with short delays so tests finish quickly.
func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	fn, calls := failNTimes(2)

	err := Retry(context.Background(), fastRetry(3), fn)

	assert.NoError(t, err)
	assert.Equal(t, 3, *calls)
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	fn := func() error {
		calls++
		return errors.New("persistent")
	}

	err := Retry(context.Background(), fastRetry(2), fn)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	fn := func() error {
		time.Sleep(100 * time.Millisecond)
		return errors.New("slow failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := fastRetry(5)
	cfg.InitialDelay = 200 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, fn)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetry_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := fastRetry(10)
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second

	err := Retry(ctx, cfg, func() error { return errors.New("always") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	var timestamps []time.Time
	fn, _ := failNTimes(3)
	timed := func() error {
		timestamps = append(timestamps, time.Now())
		return fn()
	}

	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	_ = Retry(context.Background(), cfg, timed)

	require.Len(t, timestamps, 4)
	assert.InDelta(t, 20, timestamps[1].Sub(timestamps[0]).Milliseconds(), 15)
	assert.InDelta(t, 40, timestamps[2].Sub(timestamps[1]).Milliseconds(), 20)
	assert.InDelta(t, 80, timestamps[3].Sub(timestamps[2]).Milliseconds(), 40)
}

func TestRetry_DelayCappedAtMax(t *testing.T) {
	var timestamps []time.Time
	fn, _ := failNTimes(4)
	timed := func() error {
		timestamps = append(timestamps, time.Now())
		return fn()
	}

	cfg := RetryConfig{
		MaxRetries:   10,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     30 * time.Millisecond,
		Multiplier:   2.0,
	}
	_ = Retry(context.Background(), cfg, timed)

	for i := 2; i < len(timestamps); i++ {
		delay := timestamps[i].Sub(timestamps[i-1])
		assert.LessOrEqual(t, delay.Milliseconds(), int64(50))
	}
}

func TestRetry_JitterVariesDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		var timestamps []time.Time
		fn, _ := failNTimes(2)
		_ = Retry(context.Background(), cfg, func() error {
			timestamps = append(timestamps, time.Now())
			return fn()
		})
		if len(timestamps) >= 2 {
			delays = append(delays, timestamps[1].Sub(timestamps[0]))
		}
	}

	require.GreaterOrEqual(t, len(delays), 2)
	for _, d := range delays {
		// Jitter keeps the first delay within 50-100% of InitialDelay.
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(25))
		assert.LessOrEqual(t, d.Milliseconds(), int64(100))
	}
}

func TestRetry_ImmediateSuccessSkipsDelays(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	start := time.Now()
	err := Retry(context.Background(), cfg, func() error { return nil })

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	fn := func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}

	result, err := RetryWithResult(context.Background(), fastRetry(3), fn)

	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	fn := func() (string, error) {
		return "partial", errors.New("always")
	}

	result, err := RetryWithResult(context.Background(), fastRetry(1), fn)

	assert.Error(t, err)
	assert.Equal(t, "", result)
}

func TestRetry_Concurrent(t *testing.T) {
	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn, _ := failNTimes(1)
			cfg := RetryConfig{
				MaxRetries:   3,
				InitialDelay: 5 * time.Millisecond,
				MaxDelay:     20 * time.Millisecond,
				Multiplier:   2.0,
			}
			if err := Retry(context.Background(), cfg, fn); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), successCount.Load())
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 16*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
