package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/config"
	"lessonforge/pkg/limiter"
)

func echo(model string) llm.LLMClient {
	return llm.WrapClient(
		func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "fine"}, nil
		},
		func() string { return model },
	)
}

func TestMiddlewareAcquiresAndCharges(t *testing.T) {
	lim := limiter.NewLimiter(map[string]config.ModelLimits{
		"gemini-2.5-pro": {TokensPerMinute: 100000, DailyBudgetUSD: 10, MaxConcurrency: 1},
	})
	client := llm.Chain(echo("gemini-2.5-pro"), Middleware(lim, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hello there")},
	})
	require.NoError(t, err)

	tokens, spent, slots, err := lim.GetStatus("gemini-2.5-pro")
	require.NoError(t, err)
	assert.Less(t, tokens, 100000)
	assert.Positive(t, spent)
	assert.Zero(t, slots, "slot must be released after the call")
}

func TestMiddlewareBudgetExhausted(t *testing.T) {
	lim := limiter.NewLimiter(map[string]config.ModelLimits{
		"gemini-2.5-pro": {TokensPerMinute: 100000, DailyBudgetUSD: 0.01},
	})
	require.NoError(t, lim.ReserveBudget("gemini-2.5-pro", 0.01))
	client := llm.Chain(echo("gemini-2.5-pro"), Middleware(lim, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.False(t, llmerrors.IsRetryable(err))
}

func TestMiddlewareCancelledWhileWaiting(t *testing.T) {
	lim := limiter.NewLimiter(map[string]config.ModelLimits{
		"m": {TokensPerMinute: 10, MaxConcurrency: 1},
	})
	release, err := lim.Acquire(context.Background(), "m", 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	client := llm.Chain(echo("m"), Middleware(lim, nil))
	_, err = client.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
