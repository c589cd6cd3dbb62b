package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/agent/middleware/resilience/circuit"
	"lessonforge/pkg/config"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/utils"
)

// UsageExtractor returns token usage for a request and its response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with tiktoken and charges a flat estimate per attachment.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
		promptTokens += utils.MediaTokenEstimate * len(req.Messages[i].Attachments)
	}
	promptTokens += utils.CountTokensSimple(sb.String())
	return promptTokens, utils.CountTokensSimple(resp.Content)
}

// Cost estimates the USD cost of a call from the known model prices.
func Cost(model string, promptTokens, completionTokens int) float64 {
	info, _ := config.GetModelInfo(model)
	return (float64(promptTokens)*info.InputCPM + float64(completionTokens)*info.OutputCPM) / 1_000_000
}

// Middleware records latency, usage and outcome of every call. Labels come
// from the llm.CallInfo stored in the request context.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				model := next.GetModelName()
				info := llm.CallInfoFrom(ctx)
				obs := Observation{
					Model:     model,
					JobID:     info.JobID,
					Stage:     info.Stage,
					Success:   err == nil,
					ErrorType: errorType(err),
					Duration:  duration,
				}
				if err == nil {
					obs.PromptTokens, obs.CompletionTokens = usageExtractor(req, resp)
					obs.CostUSD = Cost(model, obs.PromptTokens, obs.CompletionTokens)
				}
				recorder.ObserveRequest(obs)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Debug("LLM request: model=%s job=%s scene=%d stage=%s tokens=%d+%d status=%s duration=%dms",
						model, info.JobID, info.Scene, info.Stage, obs.PromptTokens, obs.CompletionTokens, status, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // pass through
			},
			next.GetModelName,
		)
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
