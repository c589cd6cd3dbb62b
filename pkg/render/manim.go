package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"lessonforge/pkg/logx"
	"lessonforge/pkg/utils"
)

const (
	outputTailBytes   = 64 * 1024
	diagnosticLength  = 4000
	defaultRenderTime = 10 * time.Minute
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// ManimOptions configures the Manim renderer.
type ManimOptions struct {
	Binary  string
	Quality string // l | m | h | p | k
	Timeout time.Duration
}

// Manim renders scenes with the Manim Community CLI.
type Manim struct {
	binary  string
	quality string
	timeout time.Duration
	logger  *logx.Logger
}

// NewManim creates a Manim renderer.
func NewManim(opts ManimOptions) *Manim {
	if opts.Binary == "" {
		opts.Binary = "manim"
	}
	if opts.Quality == "" {
		opts.Quality = "h"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRenderTime
	}
	return &Manim{
		binary:  opts.Binary,
		quality: opts.Quality,
		timeout: opts.Timeout,
		logger:  logx.NewLogger("render"),
	}
}

// Render writes the code to req.SourcePath and renders it.
func (m *Manim) Render(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.SourcePath) == "" {
		return Outcome{}, errors.New("source path is required")
	}
	if req.Code != "" {
		if err := utils.WriteFileAtomic(req.SourcePath, []byte(req.Code)); err != nil {
			return Outcome{}, fmt.Errorf("failed to write scene source: %w", err)
		}
	}
	mediaDir := req.MediaDir
	if mediaDir == "" {
		mediaDir = filepath.Join(filepath.Dir(req.SourcePath), "media")
	}

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	args := []string{
		"-q" + m.quality,
		"--media_dir", mediaDir,
		"--progress_bar", "none",
		req.SourcePath,
	}
	cmd := exec.CommandContext(runCtx, m.binary, args...)
	cmd.Dir = filepath.Dir(req.SourcePath)
	cmd.WaitDelay = 5 * time.Second

	// One writer for both streams so exec copies them on a single goroutine.
	output := newTailBuffer(outputTailBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	m.logger.Info("rendering scene %d v%d: %s", req.SceneNumber, req.Version, filepath.Base(req.SourcePath))
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			return Outcome{}, fmt.Errorf("render cancelled: %w", ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			out := Failed(FailureTimeout, fmt.Sprintf("render timed out after %s\n%s", m.timeout, Diagnostic(output.String())))
			out.Duration = elapsed
			return out, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Outcome{}, fmt.Errorf("%s could not be started: %w", m.binary, runErr)
		}
		out := Failed(FailureRuntime, Diagnostic(output.String()))
		if out.Diagnostic == "" {
			out.Diagnostic = runErr.Error()
		}
		out.Duration = elapsed
		m.logger.Warn("scene %d v%d failed to render (%s)", req.SceneNumber, req.Version, out.Class)
		return out, nil
	}

	stem := strings.TrimSuffix(filepath.Base(req.SourcePath), filepath.Ext(req.SourcePath))
	video, err := FindVideo(mediaDir, stem)
	if err != nil {
		out := Failed(FailureNoOutput, fmt.Sprintf("render finished but produced no video: %v\n%s", err, Diagnostic(output.String())))
		out.Duration = elapsed
		return out, nil
	}

	out := Succeeded(video)
	out.Duration = elapsed
	m.logger.Info("scene %d v%d rendered in %s", req.SceneNumber, req.Version, elapsed.Round(time.Millisecond))
	return out, nil
}

// Diagnostic cleans renderer output for prompts: colour codes are removed
// and only the tail, where the traceback ends, is kept.
func Diagnostic(output string) string {
	clean := strings.TrimSpace(ansiEscape.ReplaceAllString(output, ""))
	runes := []rune(clean)
	if len(runes) > diagnosticLength {
		clean = string(runes[len(runes)-diagnosticLength:])
	}
	return clean
}

// FindVideo returns the newest mp4 Manim wrote for the source file stem,
// ignoring partial movie fragments.
func FindVideo(mediaDir, stem string) (string, error) {
	root := filepath.Join(mediaDir, "videos", stem)
	var (
		best    string
		bestMod time.Time
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "partial_movie_files" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no output under %s", root)
		}
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no mp4 under %s", root)
	}
	return best, nil
}
