package retry

import (
	"context"
	"fmt"
	"time"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/logx"
)

// Middleware retries failed requests according to policy. When a retryable
// error survives every attempt it is reported as ServiceUnavailable.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if delay := policy.CalculateDelay(attempt); delay > 0 {
						select {
						case <-ctx.Done():
							return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-time.After(delay):
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if ctx.Err() != nil || !policy.ShouldRetry(err) {
						return llm.CompletionResponse{}, err //nolint:wrapcheck // pass through
					}
					if logger != nil && attempt < policy.Config.MaxAttempts {
						logger.Warn("%s attempt %d/%d failed, retrying: %v",
							next.GetModelName(), attempt, policy.Config.MaxAttempts, err)
					}
				}
				return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
