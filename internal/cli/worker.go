package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"lessonforge/pkg/render"
	"lessonforge/pkg/worker"
)

type workerOptions struct {
	metricsListen string
}

func newWorkerCommand(root *rootOptions) *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued videos from the storage database",
		Long: `Polls the videos table for queued records every worker.poll_interval and runs
up to worker.batch of them, bounded by pipeline.max_job_concurrency. Queue
videos with "lessonforge jobs submit". Requires storage.enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "serve /metrics on this address")
	return cmd
}

func runWorker(cmd *cobra.Command, root *rootOptions, opts *workerOptions) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx, root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Storage == nil {
		return errors.New("the worker reads its queue from storage; set storage.enabled")
	}
	if err := render.CheckDependencies(app.Config.Render.ManimBinary, app.Config.Render.FFmpegBinary); err != nil {
		return err
	}

	if opts.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", app.Metrics.Handler())
		srv := &http.Server{Addr: opts.metricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Warn("metrics server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	poller := worker.New(
		worker.FromStorage(app.Storage),
		app.Gate,
		runJob(app),
		app.Config.Worker.PollInterval.Std(),
		app.Config.Worker.Batch,
	)
	poller.Run(ctx)
	return nil
}
