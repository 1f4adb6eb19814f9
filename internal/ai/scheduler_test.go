package ai

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	sched := NewScheduler(2, time.Minute, time.Minute, 0, testLogger())

	var inFlight, maxInFlight int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Run(context.Background(), sched, ClassGenerate,
				func(ctx context.Context) (string, error) {
					current := atomic.AddInt64(&inFlight, 1)
					for {
						observed := atomic.LoadInt64(&maxInFlight)
						if current <= observed ||
							atomic.CompareAndSwapInt64(&maxInFlight, observed, current) {
							break
						}
					}
					time.Sleep(20 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
					return "ok", nil
				})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2),
		"more operations ran concurrently than the ceiling allows")
}

func TestSchedulerTimeoutDiscardsResult(t *testing.T) {
	sched := NewScheduler(1, 30*time.Millisecond, 30*time.Millisecond, 0, testLogger())

	start := time.Now()
	_, err := Run(context.Background(), sched, ClassGenerate,
		func(ctx context.Context) (string, error) {
			time.Sleep(500 * time.Millisecond)
			return "too late", nil
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"caller should stop waiting at the class timeout")
}

func TestSchedulerRetriesTransientOnly(t *testing.T) {
	sched := NewScheduler(1, time.Minute, time.Minute, 2, testLogger())

	var attempts int32
	_, err := Run(context.Background(), sched, ClassGenerate,
		func(ctx context.Context) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", errors.New("connection reset")
		})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts),
		"transient failures should be retried up to the limit")

	atomic.StoreInt32(&attempts, 0)
	_, err = Run(context.Background(), sched, ClassGenerate,
		func(ctx context.Context) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", &ProviderError{Provider: "test", Status: 401, Kind: ErrAuth}
		})
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts),
		"auth failures must not be retried")
}

func TestSchedulerQueuedCallsCompleteAfterEarlierOnes(t *testing.T) {
	sched := NewScheduler(1, time.Minute, time.Minute, 0, testLogger())

	firstDone := make(chan struct{})
	secondStarted := make(chan struct{})

	go func() {
		_, _ = Run(context.Background(), sched, ClassGenerate,
			func(ctx context.Context) (string, error) {
				time.Sleep(50 * time.Millisecond)
				close(firstDone)
				return "first", nil
			})
	}()

	time.Sleep(10 * time.Millisecond)

	go func() {
		_, _ = Run(context.Background(), sched, ClassGenerate,
			func(ctx context.Context) (string, error) {
				close(secondStarted)
				return "second", nil
			})
	}()

	select {
	case <-secondStarted:
		select {
		case <-firstDone:
		default:
			t.Fatal("second operation started before the first finished")
		}
	case <-time.After(time.Second):
		t.Fatal("second operation never ran")
	}
}
