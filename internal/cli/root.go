// Package cli is the lessonforge command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"lessonforge/pkg/version"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand returns the lessonforge command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "lessonforge",
		Short: "Generate educational math videos from a topic",
		Long: `lessonforge plans a video as a sequence of scenes, writes Manim code for
each scene with a language model, renders the scenes while repairing failures,
and combines them into one video.

Configuration is read from a JSON file (default lessonforge.json); a missing
file means defaults. Any setting can be overridden with LESSONFORGE_* variables.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "lessonforge.json", "path to the configuration file")

	cmd.AddCommand(
		newGenerateCommand(opts),
		newServeCommand(opts),
		newWorkerCommand(opts),
		newJobsCommand(opts),
		newStatsCommand(opts),
		newSecretsCommand(opts),
	)
	return cmd
}

// Execute runs the command tree against os.Args and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		return 1
	}
	return 0
}

// secretsDir is where the encrypted secrets file lives: next to the config file.
func secretsDir(configPath string) string {
	return filepath.Dir(configPath)
}
