package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := &Policy{MaxAttempts: 3, Delay: time.Millisecond}
	calls := 0
	v, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 || calls != 1 {
		t.Fatalf("got value %v after %d calls", v, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := &Policy{MaxAttempts: 5, Delay: time.Millisecond}
	calls := 0
	v, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(string) != "done" || calls != 3 {
		t.Fatalf("got %v after %d calls", v, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := &Policy{MaxAttempts: 3, Delay: time.Millisecond}
	calls := 0
	boom := errors.New("boom")
	_, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, boom
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("exhaustion should wrap the last error, got %v", err)
	}
}

func TestDoNonRetryableErrorAbortsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	p := &Policy{
		MaxAttempts:  5,
		Delay:        time.Millisecond,
		RetryOnError: func(err error) bool { return !errors.Is(err, fatal) },
	}
	calls := 0
	_, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, fatal
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error back unchanged, got %v", err)
	}
	if IsExhausted(err) {
		t.Fatal("abort must not be reported as exhaustion")
	}
}

func TestDoRetryOnValue(t *testing.T) {
	p := &Policy{
		MaxAttempts:  4,
		Delay:        time.Millisecond,
		RetryOnValue: func(v interface{}) bool { return v.(string) == "pending" },
	}
	statuses := []string{"pending", "pending", "reported"}
	calls := 0
	v, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		s := statuses[calls]
		calls++
		return s, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(string) != "reported" || calls != 3 {
		t.Fatalf("got %v after %d calls", v, calls)
	}
}

func TestDoRetryOnValueExhaustion(t *testing.T) {
	p := &Policy{
		MaxAttempts:  3,
		Delay:        time.Millisecond,
		RetryOnValue: func(v interface{}) bool { return true },
	}
	_, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return "pending", nil
	})
	if !IsExhausted(err) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Policy{MaxAttempts: 3, Delay: time.Millisecond}
	_, err := p.Do(ctx, "test", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("never acceptable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"constant", Policy{Delay: 5 * time.Second}, 3, 5 * time.Second},
		{"exponential first", Policy{Delay: time.Second, Strategy: BackoffExponential}, 1, time.Second},
		{"exponential third", Policy{Delay: time.Second, Strategy: BackoffExponential}, 3, 4 * time.Second},
		{"linear", Policy{Delay: time.Second, Strategy: BackoffLinear}, 3, 3 * time.Second},
		{"capped", Policy{Delay: time.Second, Strategy: BackoffExponential, MaxDelay: 2 * time.Second}, 5, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Interval(tt.attempt); got != tt.want {
				t.Errorf("Interval(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestZeroMaxAttemptsMeansSingleAttempt(t *testing.T) {
	p := &Policy{Delay: time.Millisecond}
	calls := 0
	_, err := p.Do(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("nope")
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}
