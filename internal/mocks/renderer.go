package mocks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lessonforge/pkg/render"
)

// ScriptedRenderer implements render.Renderer with per-scene scripted outcomes.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type ScriptedRenderer struct {
	// Script maps a scene number to the outcomes of its successive renders.
	// Past the end of a script the last outcome repeats. Scenes without a
	// script succeed.
	Script map[int][]render.Outcome

	// Delay is applied to every render, honoring only its own timer.
	Delay time.Duration

	// Err, when set, is returned for every render.
	Err error

	// Calls records every request in arrival order.
	Calls []render.Request

	// WriteArtifacts creates a placeholder mp4 for successful renders that
	// have no ArtifactPath, under the request's MediaDir.
	WriteArtifacts bool

	perScene map[int]int
	mu       sync.Mutex
}

// NewScriptedRenderer creates a renderer where every scene succeeds.
func NewScriptedRenderer() *ScriptedRenderer {
	return &ScriptedRenderer{Script: map[int][]render.Outcome{}, perScene: map[int]int{}}
}

// OnScene scripts the outcomes for a scene.
func (r *ScriptedRenderer) OnScene(scene int, outcomes ...render.Outcome) *ScriptedRenderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Script[scene] = outcomes
	return r
}

// Render implements render.Renderer.
func (r *ScriptedRenderer) Render(_ context.Context, req render.Request) (render.Outcome, error) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, req)
	n := r.perScene[req.SceneNumber]
	r.perScene[req.SceneNumber] = n + 1
	script := r.Script[req.SceneNumber]
	err := r.Err
	r.mu.Unlock()

	if err != nil {
		return render.Outcome{}, err
	}

	out := render.Succeeded("")
	if len(script) > 0 {
		if n >= len(script) {
			n = len(script) - 1
		}
		out = script[n]
	}
	if out.Success && out.ArtifactPath == "" {
		out.ArtifactPath = filepath.Join(req.MediaDir, fmt.Sprintf("scene%d_v%d.mp4", req.SceneNumber, req.Version))
		if r.WriteArtifacts {
			if err := os.MkdirAll(filepath.Dir(out.ArtifactPath), 0o755); err != nil {
				return render.Outcome{}, err
			}
			if err := os.WriteFile(out.ArtifactPath, []byte("mp4"), 0o600); err != nil {
				return render.Outcome{}, err
			}
		}
	}
	return out, nil
}

// CallCount returns the number of renders so far.
func (r *ScriptedRenderer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// SceneCalls returns the number of renders of one scene.
func (r *ScriptedRenderer) SceneCalls(scene int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perScene[scene]
}

// Fail is shorthand for a runtime render failure.
func Fail(diagnostic string) render.Outcome {
	return render.Failed(render.FailureRuntime, diagnostic)
}

// Succeed is shorthand for a successful render with a generated artifact path.
func Succeed() render.Outcome {
	return render.Succeeded("")
}
