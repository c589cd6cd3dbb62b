// Package templates renders the embedded prompt templates used by the planner,
// synthesizer, repair strategies and knowledge retrieval.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"lessonforge/pkg/utils"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering. Each template reads
// only the fields it needs.
type TemplateData struct {
	Topic       string `json:"topic"`
	Description string `json:"description,omitempty"`
	MaxScenes   int    `json:"max_scenes,omitempty"`
	SceneNumber int    `json:"scene_number,omitempty"`

	Outline      string `json:"outline,omitempty"`
	SceneOutline string `json:"scene_outline,omitempty"`
	Plan         string `json:"plan,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	// Context holds knowledge snippets, preventive examples and similar fixes.
	Context []string `json:"context,omitempty"`

	SearchQuery   string `json:"search_query,omitempty"`
	SearchResults string `json:"search_results,omitempty"`

	// Response and Pattern feed the format retry prompt.
	Response string `json:"response,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// PromptTemplate names an embedded template file.
type PromptTemplate string

const (
	// OutlineTemplate asks for the <SCENE_OUTLINE> of a topic.
	OutlineTemplate PromptTemplate = "outline.tpl.md"
	// ImplementationPlanTemplate asks for one scene's implementation plan.
	ImplementationPlanTemplate PromptTemplate = "implementation_plan.tpl.md"
	// CodeGenerationTemplate asks for a scene's Manim code.
	CodeGenerationTemplate PromptTemplate = "code_generation.tpl.md"
	// FormatRetryTemplate asks the model to re-emit code in the fence format.
	FormatRetryTemplate PromptTemplate = "format_retry.tpl.md"
	// FixErrorTemplate asks for a fix using memory and knowledge context.
	FixErrorTemplate PromptTemplate = "fix_error.tpl.md"
	// SearchQueryTemplate asks for a web search query for a render error.
	SearchQueryTemplate PromptTemplate = "search_query.tpl.md"
	// SearchFixTemplate asks for a fix using web search results.
	SearchFixTemplate PromptTemplate = "search_fix.tpl.md"
	// VisualReviewTemplate asks a multimodal model to review a rendered frame or clip.
	VisualReviewTemplate PromptTemplate = "visual_review.tpl.md"
	// KnowledgeQueriesCodeTemplate asks for corpus queries before synthesis.
	KnowledgeQueriesCodeTemplate PromptTemplate = "knowledge_queries_code.tpl.md"
	// KnowledgeQueriesFixTemplate asks for corpus queries for a render error.
	KnowledgeQueriesFixTemplate PromptTemplate = "knowledge_queries_fix.tpl.md"
)

// All lists every embedded template.
//
//nolint:gochecknoglobals // template registry
var All = []PromptTemplate{
	OutlineTemplate,
	ImplementationPlanTemplate,
	CodeGenerationTemplate,
	FormatRetryTemplate,
	FixErrorTemplate,
	SearchQueryTemplate,
	SearchFixTemplate,
	VisualReviewTemplate,
	KnowledgeQueriesCodeTemplate,
	KnowledgeQueriesFixTemplate,
}

// Renderer handles prompt rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	funcs := template.FuncMap{
		"contains": strings.Contains,
		"truncate": func(n int, s string) string { return utils.TruncateRunes(s, n) },
		"inc":      func(i int) int { return i + 1 },
	}

	for _, name := range All {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// MustNewRenderer is NewRenderer for package-level defaults; the templates
// are embedded, so a parse failure is a build defect.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []PromptTemplate {
	templates := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
