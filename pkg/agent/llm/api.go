// Package llm defines the language-model contract used by every generation step.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens bounds a single completion.
	DefaultMaxTokens = 8192
	// TemperatureDefault is used for planning and code generation.
	TemperatureDefault = 0.7
	// TemperatureDeterministic is used for query formulation and format repair.
	TemperatureDeterministic = 0.2
)

// Attachment is binary media sent alongside a message (rendered frames or clips).
type Attachment struct {
	MIMEType string
	Data     []byte
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool { return strings.HasPrefix(a.MIMEType, "image/") }

// IsVideo reports whether the attachment is a video.
func (a Attachment) IsVideo() bool { return strings.HasPrefix(a.MIMEType, "video/") }

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content     string
	Attachments []Attachment
	Role        CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// HasAttachments reports whether any message carries media.
func (r *CompletionRequest) HasAttachments() bool {
	for i := range r.Messages {
		if len(r.Messages[i].Attachments) > 0 {
			return true
		}
	}
	return false
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // established name
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// NewUserMessageWithMedia creates a user message carrying attachments.
func NewUserMessageWithMedia(content string, media ...Attachment) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content, Attachments: media}
}

// SplitSystem separates system messages (joined) from the conversation.
// Providers with a dedicated system field use this.
func SplitSystem(messages []CompletionMessage) (system string, rest []CompletionMessage) {
	var parts []string
	for i := range messages {
		if messages[i].Role == RoleSystem {
			parts = append(parts, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(parts, "\n\n"), rest
}

// Prompt sends a single user prompt and returns the text answer.
func Prompt(ctx context.Context, client LLMClient, prompt string, temperature float32) (string, error) {
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage(prompt)})
	req.Temperature = temperature
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", client.GetModelName(), err)
	}
	return resp.Content, nil
}
