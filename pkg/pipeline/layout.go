package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"lessonforge/pkg/scene"
	"lessonforge/pkg/utils"
)

// Layout addresses the on-disk artifacts of one topic. Every stage checks
// for its artifact here before doing work, which is what makes a restarted
// job continue where it stopped.
//
//	<root>/<prefix>/<prefix>_scene_outline.txt
//	<root>/<prefix>/scene<n>/<prefix>_scene<n>_implementation_plan.txt
//	<root>/<prefix>/scene<n>/code/<prefix>_scene<n>_v<k>.py
//	<root>/<prefix>/scene<n>/succ_rendered.txt
//	<root>/<prefix>/scene<n>/subplans/scene_trace_id.txt
//	<root>/<prefix>/<prefix>_combined.mp4
//	<root>/<prefix>/media/...
type Layout struct {
	Root   string
	Prefix string
}

// NewLayout creates the layout of a topic under root.
func NewLayout(root, topic string) Layout {
	return Layout{Root: root, Prefix: utils.FilePrefix(topic)}
}

// Dir is the topic directory.
func (l Layout) Dir() string { return filepath.Join(l.Root, l.Prefix) }

// OutlinePath is the scene outline artifact.
func (l Layout) OutlinePath() string {
	return filepath.Join(l.Dir(), l.Prefix+"_scene_outline.txt")
}

// SceneDir is the directory owned by one scene.
func (l Layout) SceneDir(n int) string {
	return filepath.Join(l.Dir(), fmt.Sprintf("scene%d", n))
}

// PlanPath is a scene's implementation plan.
func (l Layout) PlanPath(n int) string {
	return filepath.Join(l.SceneDir(n), fmt.Sprintf("%s_scene%d_implementation_plan.txt", l.Prefix, n))
}

// CodeDir holds a scene's versioned code and logs.
func (l Layout) CodeDir(n int) string { return filepath.Join(l.SceneDir(n), "code") }

// MarkerPath is written once a scene has rendered. It holds the artifact path.
func (l Layout) MarkerPath(n int) string {
	return filepath.Join(l.SceneDir(n), "succ_rendered.txt")
}

// TraceIDPath holds a scene's trace id.
func (l Layout) TraceIDPath(n int) string {
	return filepath.Join(l.SceneDir(n), "subplans", "scene_trace_id.txt")
}

// CombinedPath is the final video.
func (l Layout) CombinedPath() string {
	return filepath.Join(l.Dir(), l.Prefix+"_combined.mp4")
}

// MediaDir is where the renderer writes scene videos.
func (l Layout) MediaDir() string { return filepath.Join(l.Dir(), "media") }

// Workspace returns the scene-scoped workspace handed to the scene loop.
func (l Layout) Workspace(n int) *scene.DirWorkspace {
	return scene.NewDirWorkspace(l.SceneDir(n), l.MediaDir(), l.Prefix, n)
}

// ReadOutline returns the stored outline text, or "" when there is none.
func (l Layout) ReadOutline() (string, error) {
	return readOptional(l.OutlinePath())
}

// ReadPlan returns a stored plan, or "" when there is none.
func (l Layout) ReadPlan(n int) (string, error) {
	return readOptional(l.PlanPath(n))
}

// Rendered returns the artifact recorded by a scene's marker and whether the
// marker exists.
func (l Layout) Rendered(n int) (string, bool) {
	data, err := os.ReadFile(l.MarkerPath(n))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// MarkRendered records a scene's final artifact.
func (l Layout) MarkRendered(n int, artifact string) error {
	return utils.WriteFileAtomic(l.MarkerPath(n), []byte(artifact+"\n"))
}

// HasCode reports whether any version of a scene's code exists.
func (l Layout) HasCode(n int) bool {
	matches, _ := filepath.Glob(filepath.Join(l.CodeDir(n), fmt.Sprintf("%s_scene%d_v*.py", l.Prefix, n)))
	return len(matches) > 0
}

// TraceID returns the scene's trace id, creating it on first use.
func (l Layout) TraceID(n int) (string, error) {
	existing, err := readOptional(l.TraceIDPath(n))
	if err != nil {
		return "", err
	}
	if id := strings.TrimSpace(existing); id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := utils.WriteFileAtomic(l.TraceIDPath(n), []byte(id)); err != nil {
		return "", fmt.Errorf("failed to save trace id: %w", err)
	}
	return id, nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
