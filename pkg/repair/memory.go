package repair

import (
	"context"
	"fmt"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/knowledge"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/templates"
	"lessonforge/pkg/utils"
)

const (
	similarFixLimit   = 3
	similarFixCodeLen = 300
)

// FixLookup is the Fix-Memory subset used for repairs.
type FixLookup interface {
	FindSimilar(ctx context.Context, q fixmemory.Query) []fixmemory.Record
}

// Knowledge is the retrieval subset used for repairs.
type Knowledge interface {
	Retrieve(ctx context.Context, contextText, topic string, sceneIndex int, mode knowledge.Mode) []string
}

// MemoryFix asks the model for a fix with similar past fixes and retrieved
// documentation as context. With no context available it still asks the
// model, so it always applies.
type MemoryFix struct {
	model     llm.LLMClient
	memory    FixLookup
	knowledge Knowledge
	extractor CodeExtractor
	templates *templates.Renderer
	logger    *logx.Logger
}

// NewMemoryFix creates the strategy. memory and knowledge may be nil.
func NewMemoryFix(model llm.LLMClient, memory FixLookup, kn Knowledge, extractor CodeExtractor, renderer *templates.Renderer) *MemoryFix {
	if renderer == nil {
		renderer = templates.MustNewRenderer()
	}
	return &MemoryFix{
		model:     model,
		memory:    memory,
		knowledge: kn,
		extractor: extractor,
		templates: renderer,
		logger:    logx.NewLogger("repair"),
	}
}

// Name implements Strategy.
func (m *MemoryFix) Name() string { return fixmemory.MethodMemory }

// Attempt implements Strategy.
func (m *MemoryFix) Attempt(ctx context.Context, req Request) (string, bool) {
	ctx = llm.WithStage(ctx, "repair")
	var refs []string

	if m.memory != nil {
		similar := m.memory.FindSimilar(ctx, fixmemory.Query{
			ErrorMessage:  req.Diagnostic,
			Code:          utils.TruncateRunes(req.Code, similarFixCodeLen),
			Topic:         req.Topic,
			SceneCategory: req.Category,
			Limit:         similarFixLimit,
		})
		if len(similar) > 0 {
			m.logger.Info("scene %d: found %d similar fixes in memory", req.SceneNumber, len(similar))
			refs = append(refs, formatSimilarFixes(similar))
		}
	}

	if m.knowledge != nil {
		contextText := req.Diagnostic + "\n\n" + req.Code
		refs = append(refs, m.knowledge.Retrieve(ctx, contextText, req.Topic, req.SceneNumber, knowledge.ModeErrorFix)...)
	}

	if hint := CannedHint(req.Diagnostic, req.Code); hint != "" {
		m.logger.Info("scene %d: added Code object hint", req.SceneNumber)
		refs = append(refs, hint)
	}

	prompt, err := m.templates.Render(templates.FixErrorTemplate, &templates.TemplateData{
		Topic:   req.Topic,
		Error:   promptDiagnostic(req.Diagnostic),
		Code:    req.Code,
		Plan:    req.Plan,
		Context: refs,
	})
	if err != nil {
		m.logger.Warn("failed to render fix prompt: %v", err)
		return "", false
	}

	answer, err := llm.Prompt(ctx, m.model, prompt, llm.TemperatureDefault)
	if err != nil {
		m.logger.Warn("scene %d: fix generation failed: %v", req.SceneNumber, err)
		return "", false
	}
	code, err := m.extractor.ExtractWithRetries(ctx, answer)
	if err != nil {
		m.logger.Warn("scene %d: no code in fix answer: %v", req.SceneNumber, err)
		return "", false
	}
	if strings.TrimSpace(code) == strings.TrimSpace(req.Code) {
		return "", false
	}
	return code, true
}

func formatSimilarFixes(records []fixmemory.Record) string {
	var b strings.Builder
	b.WriteString("# Similar errors fixed previously:\n")
	for i := range records {
		r := &records[i]
		fmt.Fprintf(&b, "# Fix %d (worked %d times): %s\n", i+1, r.SuccessCount, utils.TruncateRunes(r.ErrorMessage, 200))
		b.WriteString(fixmemory.Snippet(r.FixedCode))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
