package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := &breaker{config: Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, now: func() time.Time { return now }}

	b.Record(false)
	if b.GetState() != Closed {
		t.Fatal("opened too early")
	}
	b.Record(false)
	if b.GetState() != Open || b.Allow() {
		t.Fatal("expected open breaker to reject")
	}

	now = now.Add(time.Minute)
	if !b.Allow() || b.GetState() != HalfOpen {
		t.Fatal("expected half-open probe after timeout")
	}
	b.Record(true)
	if b.GetState() != Closed {
		t.Errorf("expected closed after successful probe, got %s", b.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := &breaker{config: Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, now: func() time.Time { return now }}
	b.Record(false)
	now = now.Add(time.Second)
	b.Allow()
	b.Record(false)
	if b.GetState() != Open {
		t.Errorf("expected reopen, got %s", b.GetState())
	}
	b.Reset()
	if b.GetState() != Closed {
		t.Error("Reset should close the breaker")
	}
}

func TestMiddlewareIgnoresBadPrompts(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	failure := llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long")
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, failure
		},
		func() string { return "m" },
	)
	client := llm.Chain(base, Middleware(b))

	for i := 0; i < 3; i++ {
		_, err := client.Complete(context.Background(), llm.CompletionRequest{})
		if !errors.Is(err, failure) {
			t.Fatalf("call %d: expected the provider error, got %v", i, err)
		}
	}
	if b.GetState() != Closed {
		t.Error("bad prompts must not open the breaker")
	}
}

func TestMiddlewareRejectsWhenOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	b.Record(false)
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			t.Fatal("provider must not be called while open")
			return llm.CompletionResponse{}, nil
		},
		func() string { return "m" },
	)
	_, err := llm.Chain(base, Middleware(b)).Complete(context.Background(), llm.CompletionRequest{})
	var cErr *Error
	if !errors.As(err, &cErr) {
		t.Errorf("expected circuit error, got %v", err)
	}
}
