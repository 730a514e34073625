package transfer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicySucceedsAfterFailures(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{MaxAttempts: 4, Delay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || attempts != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}

func TestRetryPolicyExhaustsAndReturnsLastError(t *testing.T) {
	last := errors.New("fourth")
	calls := 0
	start := time.Now()
	attempts, err := RetryPolicy{MaxAttempts: 4, Delay: 5 * time.Millisecond}.Do(context.Background(), func() error {
		calls++
		if calls == 4 {
			return last
		}
		return errors.New("earlier")
	})
	if !errors.Is(err, last) || attempts != 4 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected three delays between four attempts, took %v", elapsed)
	}
}

func TestRetryPolicyZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	attempts, _ := RetryPolicy{}.Do(context.Background(), func() error {
		calls++
		return errors.New("x")
	})
	if attempts != 1 || calls != 1 {
		t.Fatalf("attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryPolicyCanceledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := RetryPolicy{MaxAttempts: 3, Delay: time.Hour}.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("x")
	})
	if !errors.Is(err, context.Canceled) || attempts != 1 || calls != 1 {
		t.Fatalf("attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}
