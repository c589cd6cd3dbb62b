package templates

import (
	"strings"
	"testing"
)

func TestNewRenderer(t *testing.T) {
	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	if len(renderer.GetAvailableTemplates()) != len(All) {
		t.Errorf("Expected %d templates, got %d", len(All), len(renderer.GetAvailableTemplates()))
	}

	data := &TemplateData{Topic: "Pythagorean theorem", Plan: "draw a circle", Code: "x = 1", Error: "NameError"}
	for _, name := range All {
		result, err := renderer.Render(name, data)
		if err != nil {
			t.Errorf("Failed to render template %s: %v", name, err)
		}
		if strings.Contains(result, "{{") {
			t.Errorf("Template %s still contains unprocessed placeholder", name)
		}
	}
}

func TestRenderCodeGenerationContext(t *testing.T) {
	renderer := MustNewRenderer()

	result, err := renderer.Render(CodeGenerationTemplate, &TemplateData{
		Topic:       "Circles",
		SceneNumber: 2,
		Plan:        "draw a circle",
		Context:     []string{"Circle(radius=1)", "Create(circle)"},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"Scene2", "draw a circle", "--- reference 1 ---", "--- reference 2 ---", "Create(circle)", "```python"} {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %q in prompt:\n%s", want, result)
		}
	}

	result, err = renderer.Render(CodeGenerationTemplate, &TemplateData{Topic: "Circles", SceneNumber: 1})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(result, "Reference material") {
		t.Error("Reference section should be omitted without context")
	}
}

func TestSearchQueryTruncatesCode(t *testing.T) {
	renderer := MustNewRenderer()

	code := strings.Repeat("a", 800)
	result, err := renderer.Render(SearchQueryTemplate, &TemplateData{Code: code, Error: "TypeError"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(result, strings.Repeat("a", 501)) {
		t.Error("Code excerpt should be cut to 500 characters")
	}
	if !strings.Contains(result, strings.Repeat("a", 500)) {
		t.Error("Code excerpt missing")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	renderer := MustNewRenderer()
	if _, err := renderer.Render("missing.tpl.md", &TemplateData{}); err == nil {
		t.Error("Expected error for unknown template")
	}
}
