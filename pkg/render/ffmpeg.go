package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lessonforge/pkg/logx"
)

// FFmpeg wraps the ffmpeg binary for frame snapshots and scene concatenation.
type FFmpeg struct {
	binary string
	logger *logx.Logger
}

// NewFFmpeg creates an ffmpeg wrapper.
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, logger: logx.NewLogger("ffmpeg")}
}

// LastFrame writes the final frame of videoPath to outPath as an image.
func (f *FFmpeg) LastFrame(ctx context.Context, videoPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return f.run(ctx, "-y", "-loglevel", "error", "-sseof", "-1", "-i", videoPath, "-update", "1", "-q:v", "2", outPath)
}

// Concat joins videos in order into outPath with the concat demuxer. The
// output appears at outPath only once ffmpeg has finished writing it.
func (f *FFmpeg) Concat(ctx context.Context, videos []string, outPath string) error {
	if len(videos) == 0 {
		return errors.New("no videos to combine")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var list strings.Builder
	for _, v := range videos {
		abs, err := filepath.Abs(v)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", v, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	listPath := outPath + ".concat.txt"
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath) //nolint:errcheck // best-effort cleanup

	partial := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".partial.mp4"
	start := time.Now()
	if err := f.run(ctx, "-y", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", partial); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, outPath); err != nil {
		return fmt.Errorf("failed to move combined video into place: %w", err)
	}
	f.logger.Info("combined %d scenes into %s in %s", len(videos), filepath.Base(outPath), time.Since(start).Round(time.Millisecond))
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.WaitDelay = 5 * time.Second
	stderr := newTailBuffer(8 * 1024)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", f.binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
