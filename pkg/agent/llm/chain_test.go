package llm

import (
	"context"
	"strings"
	"testing"
)

type echoClient struct{ calls int }

func (e *echoClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	e.calls++
	return CompletionResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
}

func (e *echoClient) GetModelName() string { return "echo" }

func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, tag)
				resp, err := next.Complete(ctx, req)
				resp.Content += "|" + tag
				return resp, err
			},
			next.GetModelName,
		)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	base := &echoClient{}
	client := Chain(base, tagging("outer", &order), tagging("inner", &order))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("Expected outer before inner, got %v", order)
	}
	if resp.Content != "hi|inner|outer" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if client.GetModelName() != "echo" {
		t.Errorf("Expected model name passthrough, got %s", client.GetModelName())
	}
}

func TestChainWithoutMiddleware(t *testing.T) {
	base := &echoClient{}
	if Chain(base) != LLMClient(base) {
		t.Error("Expected base client back")
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]CompletionMessage{
		NewSystemMessage("a"),
		NewUserMessage("q"),
		NewSystemMessage("b"),
	})
	if system != "a\n\nb" {
		t.Errorf("unexpected system %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "q" {
		t.Errorf("unexpected rest %+v", rest)
	}
}

func TestCallInfo(t *testing.T) {
	ctx := WithCallInfo(context.Background(), CallInfo{JobID: "j1", Scene: 2, Stage: "synthesize"})
	ctx = WithStage(ctx, "repair")
	info := CallInfoFrom(ctx)
	if info.JobID != "j1" || info.Scene != 2 || info.Stage != "repair" {
		t.Errorf("unexpected call info %+v", info)
	}
	if (CallInfoFrom(context.Background()) != CallInfo{}) {
		t.Error("Expected zero call info")
	}
}

func TestAttachmentKinds(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{
		NewUserMessageWithMedia("look", Attachment{MIMEType: "image/png", Data: []byte{1}}),
	})
	if !req.HasAttachments() {
		t.Error("Expected attachments")
	}
	a := req.Messages[0].Attachments[0]
	if !a.IsImage() || a.IsVideo() {
		t.Error("Expected image attachment")
	}
}

func TestPrompt(t *testing.T) {
	out, err := Prompt(context.Background(), &echoClient{}, "ping", TemperatureDeterministic)
	if err != nil || out != "ping" {
		t.Errorf("Prompt = %q, %v", out, err)
	}
}
