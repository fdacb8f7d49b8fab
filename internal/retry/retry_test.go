package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Uniform(5, time.Millisecond, 2*time.Millisecond), func(retryCount int) error {
		calls++
		if retryCount != calls-1 {
			t.Errorf("retryCount = %d on call %d", retryCount, calls)
		}
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Do() error = %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	result := Do(context.Background(), Uniform(10, time.Millisecond, 2*time.Millisecond), func(int) error {
		calls++
		return Permanent(fatal)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(result.Err, fatal) {
		t.Errorf("Do() error = %v, want wrapped fatal", result.Err)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	transient := errors.New("transient")
	result := Do(context.Background(), Uniform(3, time.Millisecond, 2*time.Millisecond), func(int) error {
		return transient
	})
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if !errors.Is(result.Err, transient) {
		t.Errorf("Do() error = %v, want transient", result.Err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := Do(ctx, Uniform(100, 50*time.Millisecond, 100*time.Millisecond), func(int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", result.Err)
	}
}

func TestDoWithValue(t *testing.T) {
	value, result := DoWithValue(context.Background(), Uniform(2, time.Millisecond, 2*time.Millisecond), func(retryCount int) (string, error) {
		if retryCount == 0 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if result.Err != nil {
		t.Fatalf("DoWithValue() error = %v", result.Err)
	}
	if value != "ok" {
		t.Errorf("value = %q, want ok", value)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(Permanent(errors.New("x"))) {
		t.Error("permanent errors should not be retryable")
	}
	if !IsRetryable(errors.New("x")) {
		t.Error("plain errors should be retryable")
	}
}
