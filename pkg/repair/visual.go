package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/templates"
)

// LGTM is the answer a reviewer gives when the render needs no change.
const LGTM = "<LGTM>"

// Visual review media modes.
const (
	ModeImage = "image"
	ModeVideo = "video"
)

// Snapshotter extracts the last frame of a rendered video.
type Snapshotter interface {
	LastFrame(ctx context.Context, videoPath, outPath string) error
}

// VisualReviewer shows a rendered scene to a multimodal model and asks for
// improved code.
type VisualReviewer struct {
	model     llm.LLMClient
	snap      Snapshotter
	mode      string
	extractor CodeExtractor
	templates *templates.Renderer
	logger    *logx.Logger
}

// NewVisualReviewer creates a reviewer. mode is ModeImage (last frame) or
// ModeVideo (the whole clip).
func NewVisualReviewer(model llm.LLMClient, snap Snapshotter, mode string, extractor CodeExtractor, renderer *templates.Renderer) *VisualReviewer {
	if mode != ModeVideo {
		mode = ModeImage
	}
	if renderer == nil {
		renderer = templates.MustNewRenderer()
	}
	return &VisualReviewer{
		model:     model,
		snap:      snap,
		mode:      mode,
		extractor: extractor,
		templates: renderer,
		logger:    logx.NewLogger("visual"),
	}
}

// Name is the fix method recorded for visual improvements.
func (v *VisualReviewer) Name() string { return fixmemory.MethodVisual }

// Review inspects the rendered artifact. It returns improved code and true,
// or false when the model approves the render or proposes identical code.
// An error means the review itself could not be carried out.
func (v *VisualReviewer) Review(ctx context.Context, req Request, artifactPath string) (string, bool, error) {
	ctx = llm.WithStage(ctx, "visual")

	media, err := v.media(ctx, artifactPath)
	if err != nil {
		return "", false, err
	}

	prompt, err := v.templates.Render(templates.VisualReviewTemplate, &templates.TemplateData{Code: req.Code})
	if err != nil {
		return "", false, fmt.Errorf("failed to render visual review prompt: %w", err)
	}

	creq := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessageWithMedia(prompt, media)})
	resp, err := v.model.Complete(ctx, creq)
	if err != nil {
		return "", false, fmt.Errorf("visual review by %s failed: %w", v.model.GetModelName(), err)
	}
	if strings.Contains(resp.Content, LGTM) {
		v.logger.Info("scene %d: visual review approved the render", req.SceneNumber)
		return "", false, nil
	}

	code, err := v.extractor.ExtractWithRetries(ctx, resp.Content)
	if err != nil {
		return "", false, fmt.Errorf("no code in visual review answer: %w", err)
	}
	if strings.TrimSpace(code) == strings.TrimSpace(req.Code) {
		return "", false, nil
	}
	v.logger.Info("scene %d: visual review proposed changes", req.SceneNumber)
	return code, true, nil
}

func (v *VisualReviewer) media(ctx context.Context, artifactPath string) (llm.Attachment, error) {
	if artifactPath == "" {
		return llm.Attachment{}, errors.New("no rendered artifact to review")
	}
	if v.mode == ModeVideo {
		data, err := os.ReadFile(artifactPath)
		if err != nil {
			return llm.Attachment{}, fmt.Errorf("failed to read video: %w", err)
		}
		return llm.Attachment{MIMEType: "video/mp4", Data: data}, nil
	}

	if v.snap == nil {
		return llm.Attachment{}, errors.New("image review needs a snapshotter")
	}
	framePath := strings.TrimSuffix(artifactPath, ".mp4") + "_last_frame.png"
	if err := v.snap.LastFrame(ctx, artifactPath, framePath); err != nil {
		return llm.Attachment{}, fmt.Errorf("failed to extract last frame: %w", err)
	}
	data, err := os.ReadFile(framePath)
	if err != nil {
		return llm.Attachment{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return llm.Attachment{MIMEType: "image/png", Data: data}, nil
}
