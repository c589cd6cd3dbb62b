// Package validation rejects empty model responses.
package validation

import (
	"context"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/logx"
)

// maxEmptyAttempts is the original request plus one retry with guidance.
const maxEmptyAttempts = 2

const emptyResponseGuidance = "Your previous reply was empty. Answer the request above in full."

// EmptyResponseMiddleware retries once with a guidance message when the model
// returns only whitespace, then fails with ErrorTypeEmptyResponse so the retry
// middleware can back off.
func EmptyResponseMiddleware() llm.Middleware {
	logger := logx.NewLogger("empty-response-validator")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // pass through
					}
					if err == nil && strings.TrimSpace(resp.Content) != "" {
						return resp, nil
					}

					logger.Warn("empty response from %s (attempt %d/%d, stop=%q)",
						next.GetModelName(), attempt, maxEmptyAttempts, resp.StopReason)
					if attempt < maxEmptyAttempts {
						req = withGuidance(req)
					}
				}
				return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
					"model returned an empty response")
			},
			next.GetModelName,
		)
	}
}

func withGuidance(req llm.CompletionRequest) llm.CompletionRequest {
	msgs := make([]llm.CompletionMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, req.Messages...)
	msgs = append(msgs, llm.NewUserMessage(emptyResponseGuidance))
	req.Messages = msgs
	return req
}
