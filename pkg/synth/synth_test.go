package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/internal/mocks"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/knowledge"
)

const circleCode = `from manim import *

class Scene1(Scene):
    def construct(self):
        circle = Circle(radius=1, color=RED)
        self.play(Create(circle))`

type fakeMemory struct {
	mu          sync.Mutex
	examples    []fixmemory.Example
	generations []string
}

func (f *fakeMemory) PreventiveExamples(context.Context, string, string, int) []fixmemory.Example {
	return f.examples
}

func (f *fakeMemory) RecordGeneration(_ context.Context, desc, _, _, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, desc)
	return true
}

type fakeKnowledge struct {
	snippets []string
	modes    []knowledge.Mode
}

func (f *fakeKnowledge) Retrieve(_ context.Context, _, _ string, _ int, mode knowledge.Mode) []string {
	f.modes = append(f.modes, mode)
	return f.snippets
}

func TestExtractCode(t *testing.T) {
	code, err := ExtractCode(mocks.PythonBlock(circleCode))
	require.NoError(t, err)
	assert.Equal(t, circleCode, code)

	stray := "```python\nfrom manim import *\n```python\nclass Scene1(Scene):\n    pass\n```"
	code, err = ExtractCode(stray)
	require.NoError(t, err)
	assert.Equal(t, "from manim import *\nclass Scene1(Scene):\n    pass", code)

	_, err = ExtractCode("no code here")
	assert.Error(t, err)

	_, err = ExtractCode("```python\ndef broken(:\n```")
	assert.Error(t, err)

	_, err = ExtractCode("```python\n\n```")
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestCheckSyntaxReportsLine(t *testing.T) {
	require.NoError(t, CheckSyntax(circleCode))

	err := CheckSyntax("x = 1\nif x ==:\n    pass\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestInferSceneCategory(t *testing.T) {
	tests := []struct {
		plan string
		want string
	}{
		{"Plot y = x^2 on labeled axes", CategoryGraph},
		{"Show the quadratic formula", CategoryFormula},
		{"Animate the dot moving right", CategoryAnimation},
		{"Write the title at the top", CategoryText},
		{"Draw a circle inside a square", CategoryGeometry},
		{"A rotating cube", Category3D},
		{"Intro", CategoryGeneral},
		// Earlier buckets win.
		{"Draw a circle and plot its area", CategoryGraph},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferSceneCategory(tt.plan), tt.plan)
	}
}

func TestSynthesizeFirstTry(t *testing.T) {
	model := mocks.NewMockLLMClient()
	model.RespondWith(mocks.PythonBlock(circleCode))
	mem := &fakeMemory{examples: []fixmemory.Example{{
		Problem:  "NameError: name 'circel' is not defined",
		Solution: strings.Repeat("c", 400),
	}}}
	kn := &fakeKnowledge{snippets: []string{"## Circle\nCircle(radius=1)"}}

	s := New(model, Options{Memory: mem, Knowledge: kn})
	res, err := s.Synthesize(context.Background(), Request{
		Topic:        "Circles",
		SceneNumber:  1,
		SceneOutline: "Introduce the circle",
		Plan:         "Draw a circle",
		Context:      []string{"caller context"},
	})
	require.NoError(t, err)

	assert.Equal(t, circleCode, res.Code)
	assert.Equal(t, CategoryGeometry, res.Category)
	assert.Equal(t, 1, model.CallCount())
	assert.Equal(t, []knowledge.Mode{knowledge.ModeCodeGeneration}, kn.modes)
	assert.Equal(t, []string{"Scene 1: Introduce the circle"}, mem.generations)

	prompt := model.Prompts()[0]
	assert.Contains(t, prompt, "caller context")
	assert.Contains(t, prompt, "# Example 1: Avoided error 'NameError: name 'circel' is not defined...'")
	assert.Contains(t, prompt, strings.Repeat("c", 300)+"...")
	assert.NotContains(t, prompt, strings.Repeat("c", 301))
	assert.Contains(t, prompt, "Circle(radius=1)")
}

func TestSynthesizeRepairsFormat(t *testing.T) {
	model := mocks.NewMockLLMClient()
	model.RespondWithSequence("Sure! I will draw a circle.", mocks.PythonBlock(circleCode))

	res, err := New(model, Options{}).Synthesize(context.Background(), Request{Topic: "t", SceneNumber: 1, Plan: "p"})
	require.NoError(t, err)
	assert.Equal(t, circleCode, res.Code)

	prompts := model.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Sure! I will draw a circle.")
	assert.Contains(t, prompts[1], CodePattern)
}

func TestSynthesizeGivesUpAfterFormatRetries(t *testing.T) {
	model := mocks.NewMockLLMClient()
	model.RespondWith("still no code")

	_, err := New(model, Options{}).Synthesize(context.Background(), Request{Topic: "t", SceneNumber: 1, Plan: "p"})
	require.Error(t, err)
	assert.True(t, IsFormatExtraction(err))

	var fe *FormatExtractionError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, DefaultFormatRetries, fe.Attempts)
	assert.Equal(t, DefaultFormatRetries, model.CallCount(), "one generation plus nine format retries")
}

func TestSynthesizeModelFailureIsNotFormatError(t *testing.T) {
	model := mocks.NewMockLLMClient()
	model.FailCompleteWith(errors.New("quota exhausted"))

	_, err := New(model, Options{}).Synthesize(context.Background(), Request{Topic: "t", SceneNumber: 3, Plan: "p"})
	require.Error(t, err)
	assert.False(t, IsFormatExtraction(err))
	assert.Contains(t, err.Error(), "scene 3")
}
