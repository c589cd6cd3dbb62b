// Package openaiofficial provides the OpenAI implementation of llm.LLMClient
// on the official SDK's Responses API.
package openaiofficial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
	"lessonforge/pkg/config"
)

// OfficialClient wraps the official OpenAI Go client.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw OpenAI client; middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// buildInput flattens the conversation into the Responses API input and
// instructions. Attachments are rejected; this client is text only.
func buildInput(messages []llm.CompletionMessage) (instructions, input string, err error) {
	system, rest := llm.SplitSystem(messages)
	var sb strings.Builder
	for i := range rest {
		msg := &rest[i]
		if len(msg.Attachments) > 0 {
			return "", "", fmt.Errorf("attachments are not supported by %s", "openai responses client")
		}
		if msg.Role == llm.RoleAssistant {
			fmt.Fprintf(&sb, "Assistant: %s\n\n", msg.Content)
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	input = strings.TrimSpace(sb.String())
	if input == "" {
		return "", "", errors.New("empty input")
	}
	return system, input, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // value receiver matches interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input, err := buildInput(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "request rejected")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if info, ok := config.KnownModels[o.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	// Reasoning models reject temperature.
	if !strings.HasPrefix(o.model, "o") {
		params.Temperature = openai.Float(float64(in.Temperature))
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}
	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: string(resp.Status),
	}, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "OpenAI Responses API failed")
}
