// Package ratelimit gates model calls on the shared per-model limiter.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/agent/middleware/metrics"
	"lessonforge/pkg/limiter"
	"lessonforge/pkg/utils"
)

// Limiter is the subset of *limiter.Limiter the middleware needs.
type Limiter interface {
	Acquire(ctx context.Context, model string, tokens int) (func(), error)
	ReserveBudget(model string, costUSD float64) error
}

// EstimatePrompt estimates prompt tokens for a request.
func EstimatePrompt(req llm.CompletionRequest) int {
	tokens := 0
	for i := range req.Messages {
		tokens += utils.CountTokensSimple(req.Messages[i].Content)
		tokens += utils.MediaTokenEstimate * len(req.Messages[i].Attachments)
	}
	return tokens
}

// Middleware waits for limiter capacity before each call and charges the
// estimated cost afterwards. An exhausted daily budget is not retryable.
func Middleware(l Limiter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				promptTokens := EstimatePrompt(req)

				start := time.Now()
				release, err := l.Acquire(ctx, model, promptTokens)
				recorder.ObserveQueueWait(model, time.Since(start))
				if err != nil {
					switch {
					case ctx.Err() != nil:
						return llm.CompletionResponse{}, err //nolint:wrapcheck // cancelled while queued
					case errors.Is(err, limiter.ErrBudgetExceeded):
						recorder.IncThrottle(model, "budget")
						return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
							"daily budget exhausted for "+model)
					case errors.Is(err, limiter.ErrRateLimit), errors.Is(err, limiter.ErrSlotLimit):
						recorder.IncThrottle(model, "rate_limit")
						return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err,
							"rate limited waiting for "+model)
					default:
						return llm.CompletionResponse{}, err //nolint:wrapcheck // unknown model
					}
				}
				defer release()

				resp, err := next.Complete(ctx, req)
				if err == nil {
					cost := metrics.Cost(model, promptTokens, utils.CountTokensSimple(resp.Content))
					_ = l.ReserveBudget(model, cost) // overshoot is caught on the next Acquire
				}
				return resp, err //nolint:wrapcheck // pass through
			},
			next.GetModelName,
		)
	}
}
