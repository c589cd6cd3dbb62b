// Package synth generates the initial Manim code of a scene from its plan.
//
// A model answer must contain a single ```python fenced block that parses as
// Python. When it does not, the synthesizer re-prompts the model with its own
// answer and an instruction to re-emit the code unchanged in the right fence,
// up to a bounded number of times, then fails with FormatExtractionError.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/knowledge"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/templates"
	"lessonforge/pkg/utils"
)

// DefaultFormatRetries bounds extraction attempts per synthesis.
const DefaultFormatRetries = 10

const (
	problemExcerpt  = 100
	solutionExcerpt = 300
)

// FormatExtractionError reports that no parseable code block could be
// obtained. It is terminal for the synthesis and is never a render failure.
type FormatExtractionError struct {
	Attempts     int
	LastResponse string
	Err          error
}

func (e *FormatExtractionError) Error() string {
	return fmt.Sprintf("failed to extract valid Python code after %d attempts (pattern %s): %v", e.Attempts, CodePattern, e.Err)
}

func (e *FormatExtractionError) Unwrap() error { return e.Err }

// IsFormatExtraction reports whether err is a FormatExtractionError.
func IsFormatExtraction(err error) bool {
	var fe *FormatExtractionError
	return errors.As(err, &fe)
}

// Memory is the Fix-Memory subset the synthesizer uses.
type Memory interface {
	PreventiveExamples(ctx context.Context, topic, category string, limit int) []fixmemory.Example
	RecordGeneration(ctx context.Context, description, code, topic, category string) bool
}

// Knowledge is the retrieval subset the synthesizer uses.
type Knowledge interface {
	Retrieve(ctx context.Context, contextText, topic string, sceneIndex int, mode knowledge.Mode) []string
}

// Request describes one scene to synthesize.
type Request struct {
	Topic        string
	Description  string
	SceneNumber  int
	SceneOutline string
	Plan         string
	// Context is extra caller-supplied reference material.
	Context []string
}

// Result is a synthesized scene.
type Result struct {
	Code     string
	Response string
	Category string
}

// Options configures a Synthesizer.
type Options struct {
	Memory        Memory
	Knowledge     Knowledge
	Templates     *templates.Renderer
	FormatRetries int
	Temperature   float32
}

// Synthesizer produces scene code with a language model.
type Synthesizer struct {
	model         llm.LLMClient
	memory        Memory
	knowledge     Knowledge
	templates     *templates.Renderer
	formatRetries int
	temperature   float32
	logger        *logx.Logger
}

// New creates a synthesizer around model.
func New(model llm.LLMClient, opts Options) *Synthesizer {
	if opts.FormatRetries <= 0 {
		opts.FormatRetries = DefaultFormatRetries
	}
	if opts.Templates == nil {
		opts.Templates = templates.MustNewRenderer()
	}
	if opts.Temperature <= 0 {
		opts.Temperature = llm.TemperatureDefault
	}
	return &Synthesizer{
		model:         model,
		memory:        opts.Memory,
		knowledge:     opts.Knowledge,
		templates:     opts.Templates,
		formatRetries: opts.FormatRetries,
		temperature:   opts.Temperature,
		logger:        logx.NewLogger("synth"),
	}
}

// Synthesize generates code for req.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	ctx = llm.WithStage(ctx, "synthesize")
	category := InferSceneCategory(req.Plan)

	refs := append([]string(nil), req.Context...)
	if examples := s.preventiveContext(ctx, req.Topic, category); examples != "" {
		refs = append(refs, examples)
	}
	if s.knowledge != nil {
		refs = append(refs, s.knowledge.Retrieve(ctx, req.Plan, req.Topic, req.SceneNumber, knowledge.ModeCodeGeneration)...)
	}

	prompt, err := s.templates.Render(templates.CodeGenerationTemplate, &templates.TemplateData{
		Topic:        req.Topic,
		Description:  req.Description,
		SceneNumber:  req.SceneNumber,
		SceneOutline: req.SceneOutline,
		Plan:         req.Plan,
		Context:      refs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to render code generation prompt: %w", err)
	}

	response, err := llm.Prompt(ctx, s.model, prompt, s.temperature)
	if err != nil {
		return Result{}, fmt.Errorf("code generation for scene %d failed: %w", req.SceneNumber, err)
	}

	code, err := s.ExtractWithRetries(ctx, response)
	if err != nil {
		return Result{}, err
	}

	if s.memory != nil {
		desc := fmt.Sprintf("Scene %d: %s", req.SceneNumber, req.SceneOutline)
		if !s.memory.RecordGeneration(ctx, desc, code, req.Topic, category) {
			logx.Debug(ctx, "synth", "generation record for scene %d not stored", req.SceneNumber)
		}
	}

	return Result{Code: code, Response: response, Category: category}, nil
}

// ExtractWithRetries extracts code from response, re-prompting the model for
// the right format when extraction fails. Repair strategies use it too.
func (s *Synthesizer) ExtractWithRetries(ctx context.Context, response string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.formatRetries; attempt++ {
		code, err := ExtractCode(response)
		if err == nil {
			return code, nil
		}
		lastErr = err
		s.logger.Warn("attempt %d: could not extract code: %v", attempt, err)

		if attempt == s.formatRetries {
			break
		}

		prompt, err := s.templates.Render(templates.FormatRetryTemplate, &templates.TemplateData{
			Pattern:  CodePattern,
			Response: response,
		})
		if err != nil {
			return "", fmt.Errorf("failed to render format retry prompt: %w", err)
		}
		retryCtx := llm.WithStage(ctx, "format_repair")
		response, err = llm.Prompt(retryCtx, s.model, prompt, llm.TemperatureDeterministic)
		if err != nil {
			return "", fmt.Errorf("format retry %d failed: %w", attempt, err)
		}
	}
	return "", &FormatExtractionError{Attempts: s.formatRetries, LastResponse: response, Err: lastErr}
}

func (s *Synthesizer) preventiveContext(ctx context.Context, topic, category string) string {
	if s.memory == nil {
		return ""
	}
	examples := s.memory.PreventiveExamples(ctx, topic, category, fixmemory.PreventiveLimit)
	if len(examples) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Previous successful patterns to avoid common errors:\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "# Example %d: Avoided error '%s...'\n", i+1, utils.TruncateRunes(ex.Problem, problemExcerpt))
		fmt.Fprintf(&b, "# Successful approach:\n%s...\n\n", utils.TruncateRunes(ex.Solution, solutionExcerpt))
	}
	s.logger.Info("added %d preventive examples for %s/%s", len(examples), topic, category)
	return b.String()
}
