package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/agent/middleware/resilience/circuit"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"per-call deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"circuit open", &circuit.Error{State: circuit.Open}, false},
		{"rate limit", llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429"), true},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"), false},
		{"bad prompt", llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"), false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"other", errors.New("weird"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.CalculateDelay(i + 1); got != w {
			t.Errorf("attempt %d: delay %v, want %v", i+1, got, w)
		}
	}
}

func TestMiddlewareRetriesThenSucceeds(t *testing.T) {
	calls := 0
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			if calls < 3 {
				return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
			}
			return llm.CompletionResponse{Content: "done"}, nil
		},
		func() string { return "m" },
	)
	policy := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
	client := llm.Chain(base, Middleware(policy, nil))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "done" {
		t.Fatalf("got %q, %v", resp.Content, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestMiddlewareExhausted(t *testing.T) {
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")
		},
		func() string { return "m" },
	)
	policy := NewPolicy(Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)

	_, err := llm.Chain(base, Middleware(policy, nil)).Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable) {
		t.Errorf("expected service unavailable, got %v", err)
	}
}

func TestMiddlewareDoesNotRetryAuth(t *testing.T) {
	calls := 0
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeAuth, "401")
		},
		func() string { return "m" },
	)
	_, err := llm.Chain(base, Middleware(NewPolicy(DefaultConfig, nil), nil)).Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) || calls != 1 {
		t.Errorf("expected a single auth failure, got %v after %d calls", err, calls)
	}
}
