package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
)

func TestEnsureAlternationMergesAndExtractsSystem(t *testing.T) {
	system, msgs, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewSystemMessage("you write manim"),
		llm.NewUserMessage("plan"),
		llm.NewUserMessageWithMedia("frame", llm.Attachment{MIMEType: "image/png", Data: []byte{1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "you write manim", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, "plan\n\nframe", msgs[0].Content)
	assert.Len(t, msgs[0].Attachments, 1)
}

func TestEnsureAlternationRejectsTrailingAssistant(t *testing.T) {
	_, _, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("a"), llm.NewAssistantMessage("b"),
	})
	assert.Error(t, err)
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"content":[{"type":"text","text":"from manim import *"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("k", "claude-sonnet-4-5", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"), llm.NewUserMessage("go"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "from manim import *", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
}

func TestCompleteClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`))
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("k", "claude-sonnet-4-5", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("go")}))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit), "got %v", err)
}
