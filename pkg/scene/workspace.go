package scene

import (
	"fmt"
	"path/filepath"

	"lessonforge/pkg/utils"
)

// Workspace is the scene-scoped artifact location. It is owned by exactly one
// loop, so implementations never share paths between scenes.
type Workspace interface {
	// SaveCode persists the code of a version and returns its path.
	SaveCode(version int, code string) (string, error)
	// SaveFixLog persists why a version was produced.
	SaveFixLog(version int, log string) error
	// MediaDir is where the renderer writes its output.
	MediaDir() string
}

// DirWorkspace lays out a scene's code and logs under
// <sceneDir>/code/<prefix>_scene<n>_v<k>.py.
type DirWorkspace struct {
	sceneDir string
	mediaDir string
	prefix   string
	scene    int
}

// NewDirWorkspace creates a workspace for one scene.
func NewDirWorkspace(sceneDir, mediaDir, prefix string, scene int) *DirWorkspace {
	return &DirWorkspace{sceneDir: sceneDir, mediaDir: mediaDir, prefix: prefix, scene: scene}
}

// CodePath returns the path of a version's code.
func (w *DirWorkspace) CodePath(version int) string {
	return filepath.Join(w.sceneDir, "code", fmt.Sprintf("%s_scene%d_v%d.py", w.prefix, w.scene, version))
}

// LogPath returns the path of a version's log of the given kind (init or fix).
func (w *DirWorkspace) LogPath(version int, kind string) string {
	return filepath.Join(w.sceneDir, "code", fmt.Sprintf("%s_scene%d_v%d_%s_log.txt", w.prefix, w.scene, version, kind))
}

// SaveCode implements Workspace.
func (w *DirWorkspace) SaveCode(version int, code string) (string, error) {
	path := w.CodePath(version)
	if err := utils.WriteFileAtomic(path, []byte(code)); err != nil {
		return "", err
	}
	return path, nil
}

// SaveInitLog stores the raw model answer of the initial synthesis.
func (w *DirWorkspace) SaveInitLog(response string) error {
	return utils.WriteFileAtomic(w.LogPath(0, "init"), []byte(response))
}

// SaveFixLog implements Workspace.
func (w *DirWorkspace) SaveFixLog(version int, log string) error {
	return utils.WriteFileAtomic(w.LogPath(version, "fix"), []byte(log))
}

// MediaDir implements Workspace.
func (w *DirWorkspace) MediaDir() string {
	return w.mediaDir
}
