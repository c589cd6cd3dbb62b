package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lessonforge/pkg/api"
	"lessonforge/pkg/pipeline"
	"lessonforge/pkg/render"
	"lessonforge/pkg/version"
	"lessonforge/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	listen string
	poll   time.Duration
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run submitted jobs",
		Long: `Starts the HTTP API. Jobs submitted with POST /api/generate are queued in
memory and run in the background, at most pipeline.max_job_concurrency at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (default: api.listen)")
	cmd.Flags().DurationVar(&opts.poll, "poll", 2*time.Second, "how often queued jobs are picked up")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx, root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	if err := render.CheckDependencies(app.Config.Render.ManimBinary, app.Config.Render.FFmpegBinary); err != nil {
		app.logger.Warn("%v; submitted jobs will fail until it is installed", err)
	}

	listen := opts.listen
	if listen == "" {
		listen = app.Config.API.Listen
	}
	srv := api.NewServer(api.Options{
		Jobs:    app.Jobs,
		Gate:    app.Gate,
		Memory:  app.Memory,
		Metrics: app.Metrics.Handler(),
		Version: version.Version,
	})
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller := worker.New(worker.FromJobs(app.Jobs), app.Gate, runJob(app), opts.poll, app.Config.Worker.Batch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.logger.Info("listening on %s", listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runJob adapts the orchestrator to the poller. The job already exists in
// the store with status queued.
func runJob(app *App) worker.Handler {
	return func(ctx context.Context, item worker.Item) error {
		maxScenes := item.MaxScenes
		if maxScenes <= 0 {
			maxScenes = api.DefaultMaxScenes
		}
		_, err := app.Orchestrator.Run(ctx, pipeline.Request{
			JobID:       item.ID,
			Topic:       item.Topic,
			Description: item.Description,
			MaxScenes:   maxScenes,
		}, pipeline.RunOptions{})
		return err
	}
}
