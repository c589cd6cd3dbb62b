package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
)

func stubClient(content string, err error) llm.LLMClient {
	return llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			if err != nil {
				return llm.CompletionResponse{}, err
			}
			return llm.CompletionResponse{Content: content}, nil
		},
		func() string { return "gemini-2.5-flash" },
	)
}

func TestMiddlewareAggregatesPerJob(t *testing.T) {
	rec := NewInternalRecorder()
	client := llm.Chain(stubClient("from manim import *", nil), Middleware(rec, nil, nil))

	ctx := llm.WithCallInfo(context.Background(), llm.CallInfo{JobID: "job-1", Scene: 2, Stage: "synthesize"})
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("write a scene")})
	_, err := client.Complete(ctx, req)
	require.NoError(t, err)

	usage := rec.Job("job-1")
	require.NotNil(t, usage)
	assert.EqualValues(t, 1, usage.RequestCount)
	assert.Positive(t, usage.PromptTokens)
	assert.Positive(t, usage.CompletionTokens)
	assert.Positive(t, usage.TotalCost)

	rec.Forget("job-1")
	assert.Nil(t, rec.Job("job-1"))
}

func TestMiddlewarePassesErrorsThrough(t *testing.T) {
	rec := NewInternalRecorder()
	want := llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down")
	client := llm.Chain(stubClient("", want), Middleware(rec, nil, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, errors.Is(err, want))

	usage := rec.Job("adhoc")
	require.NotNil(t, usage)
	assert.EqualValues(t, 1, usage.FailedCount)
	assert.Zero(t, usage.TotalTokens)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	client := llm.Chain(stubClient("ok", nil), Middleware(Multi(rec, Nop()), nil, nil))

	ctx := llm.WithCallInfo(context.Background(), llm.CallInfo{JobID: "j", Stage: "plan"})
	_, err := client.Complete(ctx, llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	rec.IncThrottle("gemini-2.5-flash", "rate_limit")

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("gemini-2.5-flash", "j", "plan", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.throttleTotal.WithLabelValues("gemini-2.5-flash", "rate_limit")))
}

func TestDefaultUsageExtractorChargesMedia(t *testing.T) {
	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{
		llm.NewUserMessageWithMedia("look", llm.Attachment{MIMEType: "image/png", Data: []byte{1}}),
	}}
	prompt, _ := DefaultUsageExtractor(req, llm.CompletionResponse{})
	assert.GreaterOrEqual(t, prompt, 1500)
}
