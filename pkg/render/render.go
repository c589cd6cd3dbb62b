// Package render runs scene code through the Manim CLI and post-processes
// the output with ffmpeg.
//
// A render either succeeds with the path of the produced video or fails with
// the interpreter's diagnostic text. Diagnostics are unstructured; callers do
// only light pattern matching on them. A non-nil error from Render means the
// renderer itself could not run (missing binary, cancelled context), which is
// not something a code repair can fix.
package render

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FailureClass is a coarse classification of a failed render.
type FailureClass string

const (
	FailureRuntime  FailureClass = "runtime"
	FailureSyntax   FailureClass = "syntax"
	FailureTimeout  FailureClass = "timeout"
	FailureNoOutput FailureClass = "no_output"
)

// Outcome is the result of rendering one version of a scene.
type Outcome struct {
	Success      bool
	ArtifactPath string
	Diagnostic   string
	Class        FailureClass
	Duration     time.Duration
}

// Succeeded builds a successful outcome.
func Succeeded(artifactPath string) Outcome {
	return Outcome{Success: true, ArtifactPath: artifactPath}
}

// Failed builds a failed outcome, classifying runtime diagnostics that are
// really syntax errors.
func Failed(class FailureClass, diagnostic string) Outcome {
	if class == FailureRuntime && (strings.Contains(diagnostic, "SyntaxError") || strings.Contains(diagnostic, "IndentationError")) {
		class = FailureSyntax
	}
	return Outcome{Diagnostic: diagnostic, Class: class}
}

// Request describes one render.
type Request struct {
	SceneNumber int
	Version     int
	Code        string
	// SourcePath is where the code is written before rendering.
	SourcePath string
	// MediaDir receives the renderer's output tree.
	MediaDir string
}

// Renderer renders scene code.
type Renderer interface {
	Render(ctx context.Context, req Request) (Outcome, error)
}

// DependencyReport lists the external binaries found on PATH.
type DependencyReport struct {
	ManimFound  bool   `json:"manim_found"`
	ManimPath   string `json:"manim_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

// DependencyStatus looks up the manim and ffmpeg binaries.
func DependencyStatus(manim, ffmpeg string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(manim); err == nil {
		report.ManimFound = true
		report.ManimPath = path
	}
	if path, err := exec.LookPath(ffmpeg); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

// CheckDependencies fails when either binary is missing.
func CheckDependencies(manim, ffmpeg string) error {
	report := DependencyStatus(manim, ffmpeg)
	if !report.ManimFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", manim)
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: %s is required to combine scenes and was not found on PATH", ffmpeg)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
