package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/templates"
)

// DefaultOutlineRetries bounds outline generation.
const DefaultOutlineRetries = 3

// Planner writes the scene outline and the per-scene implementation plans.
type Planner struct {
	model       llm.LLMClient
	templates   *templates.Renderer
	retries     int
	temperature float32
	logger      *logx.Logger
}

// NewPlanner creates a planner. renderer may be nil.
func NewPlanner(model llm.LLMClient, renderer *templates.Renderer, outlineRetries int, temperature float32) *Planner {
	if renderer == nil {
		renderer = templates.MustNewRenderer()
	}
	if outlineRetries <= 0 {
		outlineRetries = DefaultOutlineRetries
	}
	if temperature <= 0 {
		temperature = llm.TemperatureDefault
	}
	return &Planner{
		model:       model,
		templates:   renderer,
		retries:     outlineRetries,
		temperature: temperature,
		logger:      logx.NewLogger("planner"),
	}
}

// Outline asks for a scene outline until one parses, up to the retry bound.
func (p *Planner) Outline(ctx context.Context, topic, description string, maxScenes int) (*Outline, error) {
	prompt, err := p.templates.Render(templates.OutlineTemplate, &templates.TemplateData{
		Topic:       topic,
		Description: description,
		MaxScenes:   maxScenes,
	})
	if err != nil {
		return nil, err
	}

	ctx = llm.WithStage(ctx, "outline")
	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := llm.Prompt(ctx, p.model, prompt, p.temperature)
		if err != nil {
			return nil, fmt.Errorf("outline generation failed: %w", err)
		}
		outline, err := ParseOutline(resp)
		if err == nil {
			if maxScenes > 0 && outline.Count() > maxScenes {
				p.logger.Warn("outline has %d scenes, more than the %d requested", outline.Count(), maxScenes)
			}
			return outline, nil
		}
		lastErr = err
		p.logger.Warn("outline attempt %d/%d unusable: %v", attempt, p.retries, err)
	}

	var invalid *InvalidOutlineError
	if errors.As(lastErr, &invalid) {
		invalid.Reason = fmt.Sprintf("%s after %d attempts", invalid.Reason, p.retries)
	}
	return nil, lastErr
}

// Plan writes the implementation plan of one scene.
func (p *Planner) Plan(ctx context.Context, topic, description string, outline *Outline, n int) (string, error) {
	prompt, err := p.templates.Render(templates.ImplementationPlanTemplate, &templates.TemplateData{
		Topic:        topic,
		Description:  description,
		SceneNumber:  n,
		Outline:      outline.Body(),
		SceneOutline: outline.Scenes[n],
	})
	if err != nil {
		return "", err
	}
	resp, err := llm.Prompt(llm.WithStage(ctx, "plan"), p.model, prompt, p.temperature)
	if err != nil {
		return "", fmt.Errorf("scene %d plan failed: %w", n, err)
	}
	plan := strings.TrimSpace(resp)
	if plan == "" {
		return "", fmt.Errorf("scene %d plan is empty", n)
	}
	return plan, nil
}
