package circuit

import (
	"context"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
)

// Middleware rejects requests while the breaker is open. Only failures that
// indicate provider trouble count against the breaker; bad prompts do not.
func Middleware(b Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !b.Allow() {
					return llm.CompletionResponse{}, &Error{State: b.GetState()}
				}
				resp, err := next.Complete(ctx, req)
				b.Record(err == nil || llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
				return resp, err //nolint:wrapcheck // pass through
			},
			next.GetModelName,
		)
	}
}
