package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lessonforge/pkg/pipeline"
	"lessonforge/pkg/render"
	"lessonforge/pkg/scene"
)

type generateOptions struct {
	description string
	maxScenes   int
	jobID       string
	onlyPlan    bool
	onlyRender  bool
	onlyCombine bool
	scenes      []int
}

func newGenerateCommand(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Generate one video in the foreground",
		Long: `Plans, renders and combines a video for the topic. Artifacts go under
<output_dir>/<topic>/; rerunning the same topic resumes from what is on disk.`,
		Example: `  lessonforge generate "Pythagorean theorem" --context "proof by rearrangement"
  lessonforge generate "Fourier series" --only-render --scenes 2,3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, root, opts, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.description, "context", "", "extra description of what the video should cover")
	f.IntVar(&opts.maxScenes, "max-scenes", 5, "upper bound on the number of scenes")
	f.StringVar(&opts.jobID, "job-id", "", "job id to report under (default: a new uuid)")
	f.BoolVar(&opts.onlyPlan, "only-plan", false, "stop after the outline and scene plans")
	f.BoolVar(&opts.onlyRender, "only-render", false, "render scenes without combining")
	f.BoolVar(&opts.onlyCombine, "only-combine", false, "combine already rendered scenes")
	f.IntSliceVar(&opts.scenes, "scenes", nil, "render only these scene numbers")
	cmd.MarkFlagsMutuallyExclusive("only-plan", "only-render", "only-combine")
	return cmd
}

func runGenerate(cmd *cobra.Command, root *rootOptions, opts *generateOptions, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("topic must not be empty")
	}
	if opts.maxScenes < 1 {
		return fmt.Errorf("--max-scenes must be at least 1, got %d", opts.maxScenes)
	}

	ctx := cmd.Context()
	app, err := loadApp(ctx, root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	if !opts.onlyPlan {
		if err := render.CheckDependencies(app.Config.Render.ManimBinary, app.Config.Render.FFmpegBinary); err != nil {
			return err
		}
	}

	if opts.jobID == "" {
		opts.jobID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Generating: "+topic))
	kv(out, "job", opts.jobID)
	kv(out, "output", app.Orchestrator.Layout(topic).Dir())

	res, err := app.Orchestrator.Run(ctx, pipeline.Request{
		JobID:       opts.jobID,
		Topic:       topic,
		Description: opts.description,
		MaxScenes:   opts.maxScenes,
	}, pipeline.RunOptions{
		OnlyPlan:    opts.onlyPlan,
		OnlyRender:  opts.onlyRender,
		OnlyCombine: opts.onlyCombine,
		Scenes:      opts.scenes,
	})
	kv(out, "stage", res.Stage)
	kv(out, "scenes", res.Scenes)
	if len(res.Rendered) > 0 {
		kv(out, "rendered now", res.Rendered)
	}
	if err != nil {
		var failed *scene.SceneRenderFailedError
		if errors.As(err, &failed) {
			kv(out, "failed scene", failed.SceneIndex)
			kv(out, "diagnostic", truncate(failed.LastDiagnostic, 200))
		}
		return err
	}
	if res.Artifact != "" {
		fmt.Fprintf(out, "%s %s\n", okStyle.Render("Video ready:"), res.Artifact)
	} else {
		fmt.Fprintln(out, okStyle.Render("Done."))
	}
	return nil
}
