package repair

import (
	"context"
	"strings"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/search"
	"lessonforge/pkg/templates"
	"lessonforge/pkg/utils"
)

const searchResultCount = 5

// WebSearch asks a model for a search query, runs it, and asks the model to
// fix the code using the results.
type WebSearch struct {
	queryModel llm.LLMClient
	fixModel   llm.LLMClient
	provider   search.Provider
	extractor  CodeExtractor
	templates  *templates.Renderer
	logger     *logx.Logger
}

// NewWebSearch creates the strategy. queryModel writes the search query and
// fixModel writes the fix; they may be the same client.
func NewWebSearch(queryModel, fixModel llm.LLMClient, provider search.Provider, extractor CodeExtractor, renderer *templates.Renderer) *WebSearch {
	if renderer == nil {
		renderer = templates.MustNewRenderer()
	}
	return &WebSearch{
		queryModel: queryModel,
		fixModel:   fixModel,
		provider:   provider,
		extractor:  extractor,
		templates:  renderer,
		logger:     logx.NewLogger("repair"),
	}
}

// Name implements Strategy.
func (w *WebSearch) Name() string { return fixmemory.MethodWebSearch }

// Attempt implements Strategy.
func (w *WebSearch) Attempt(ctx context.Context, req Request) (string, bool) {
	if w.provider == nil {
		return "", false
	}
	ctx = llm.WithStage(ctx, "repair")

	diagnostic := promptDiagnostic(req.Diagnostic)
	queryPrompt, err := w.templates.Render(templates.SearchQueryTemplate, &templates.TemplateData{
		Error: diagnostic,
		Code:  req.Code,
		Plan:  req.Plan,
	})
	if err != nil {
		w.logger.Warn("failed to render search query prompt: %v", err)
		return "", false
	}
	answer, err := llm.Prompt(ctx, w.queryModel, queryPrompt, llm.TemperatureDeterministic)
	if err != nil {
		w.logger.Warn("scene %d: search query generation failed: %v", req.SceneNumber, err)
		return "", false
	}
	query := ExtractSearchQuery(answer)
	if query == "" {
		w.logger.Warn("scene %d: no search query in model answer", req.SceneNumber)
		return "", false
	}
	logx.Debug(ctx, "repair", "scene %d search query: %s", req.SceneNumber, query)

	resp, err := w.provider.Search(ctx, query, searchResultCount)
	if err != nil {
		w.logger.Warn("scene %d: %s search failed: %v", req.SceneNumber, w.provider.Name(), err)
		return "", false
	}
	results := search.Format(resp)
	if results == "" {
		return "", false
	}
	results = utils.TruncateTokens(results, MaxSearchResultsTokens)

	fixPrompt, err := w.templates.Render(templates.SearchFixTemplate, &templates.TemplateData{
		Plan:          req.Plan,
		Error:         diagnostic,
		Code:          req.Code,
		SearchQuery:   query,
		SearchResults: results,
	})
	if err != nil {
		w.logger.Warn("failed to render search fix prompt: %v", err)
		return "", false
	}
	fixAnswer, err := llm.Prompt(ctx, w.fixModel, fixPrompt, llm.TemperatureDefault)
	if err != nil {
		w.logger.Warn("scene %d: search-assisted fix failed: %v", req.SceneNumber, err)
		return "", false
	}
	code, err := w.extractor.ExtractWithRetries(ctx, fixAnswer)
	if err != nil {
		w.logger.Warn("scene %d: no code in search-assisted fix: %v", req.SceneNumber, err)
		return "", false
	}
	if strings.TrimSpace(code) == strings.TrimSpace(req.Code) {
		w.logger.Info("scene %d: search-assisted fix returned unchanged code", req.SceneNumber)
		return "", false
	}
	return code, true
}
