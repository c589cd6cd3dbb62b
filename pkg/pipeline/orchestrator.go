// Package pipeline turns a topic into a combined video: outline, per-scene
// plans, concurrent scene rendering, then combining and upload. Every stage
// is skipped when its artifact already exists on disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/coordinator"
	"lessonforge/pkg/jobs"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/metrics"
	"lessonforge/pkg/scene"
	"lessonforge/pkg/storage"
	"lessonforge/pkg/synth"
	"lessonforge/pkg/utils"
)

// Stage is the orchestrator's position within a job.
type Stage string

const (
	StagePlanning  Stage = "PLANNING"
	StageRendering Stage = "RENDERING"
	StageCombining Stage = "COMBINING"
	StageUploading Stage = "UPLOADING"
	StageCompleted Stage = "COMPLETED"
	StageFailed    Stage = "FAILED"
)

// Progress milestones.
const (
	progressPlanning  = 10
	progressPlanned   = 30
	progressRenderEnd = 90
	progressCombining = 95
)

// Synthesizer writes the first version of a scene's code.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

// SceneRunner drives one scene to a rendered artifact.
type SceneRunner interface {
	Run(ctx context.Context, in scene.Input) (scene.Result, error)
}

// Combiner concatenates scene videos.
type Combiner interface {
	Concat(ctx context.Context, videos []string, outPath string) error
}

// Options wires an Orchestrator.
type Options struct {
	OutputDir           string
	MaxSceneConcurrency int

	Planner     *Planner
	Synthesizer Synthesizer
	Scenes      SceneRunner
	Combiner    Combiner

	Jobs     jobs.Store
	Storage  storage.Sink
	Recorder metrics.PipelineRecorder
}

// Request is one video to produce.
type Request struct {
	JobID       string
	Topic       string
	Description string
	MaxScenes   int
}

// RunOptions restricts a run to some stages or scenes.
type RunOptions struct {
	// OnlyPlan stops after the outline and plans exist.
	OnlyPlan bool
	// OnlyRender renders scenes that have no code yet and skips combining.
	OnlyRender bool
	// OnlyCombine skips rendering and combines what has rendered.
	OnlyCombine bool
	// Scenes limits rendering to these scene numbers.
	Scenes []int
}

// Result summarizes a run.
type Result struct {
	Stage    Stage
	Scenes   int
	Rendered []int
	Artifact string
}

// Orchestrator runs video jobs. Jobs on different topics run concurrently;
// jobs on the same topic run one after another.
type Orchestrator struct {
	opts   Options
	topics *topicLocks
	logger *logx.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Storage == nil {
		opts.Storage = storage.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.MaxSceneConcurrency <= 0 {
		opts.MaxSceneConcurrency = coordinator.DefaultMaxConcurrency
	}
	return &Orchestrator{opts: opts, topics: newTopicLocks(), logger: logx.NewLogger("pipeline")}
}

// Layout returns the artifact layout of a topic.
func (o *Orchestrator) Layout(topic string) Layout {
	return NewLayout(o.opts.OutputDir, topic)
}

// job carries one run's state.
type job struct {
	req     Request
	opts    RunOptions
	layout  Layout
	outline *Outline
	plans   map[int]string
}

// Run executes a job. The job must exist in the job store or is created
// there. Any failure marks the job failed and is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request, opts RunOptions) (Result, error) {
	j := &job{req: req, opts: opts, layout: o.Layout(req.Topic), plans: map[int]string{}}
	ctx = llm.WithCallInfo(ctx, llm.CallInfo{JobID: req.JobID})

	if err := o.opts.Jobs.Create(ctx, &jobs.Job{
		ID:          req.JobID,
		Topic:       req.Topic,
		Description: req.Description,
		MaxScenes:   req.MaxScenes,
	}); err != nil {
		return Result{Stage: StageFailed}, fmt.Errorf("failed to register job: %w", err)
	}
	if err := o.opts.Storage.CreateVideo(ctx, storage.VideoRecord{
		ID:          req.JobID,
		Topic:       req.Topic,
		Description: req.Description,
	}); err != nil {
		o.logger.Warn("job %s: storage record not created: %v", req.JobID, err)
	}

	release, err := o.topics.acquire(ctx, j.layout.Prefix)
	if err != nil {
		err = fmt.Errorf("waiting for topic %q: %w", j.layout.Prefix, err)
		o.fail(ctx, j, err)
		return Result{Stage: StageFailed}, err
	}
	defer release()

	res, err := o.run(ctx, j)
	if err != nil {
		o.fail(ctx, j, err)
		res.Stage = StageFailed
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, j *job) (Result, error) {
	res := Result{Stage: StagePlanning}

	o.setStatus(ctx, j, jobs.StatusPlanning, progressPlanning, "planning scenes")
	if err := o.loadOutline(ctx, j); err != nil {
		return res, err
	}
	res.Scenes = j.outline.Count()
	o.store(ctx, j, storage.VideoUpdate{Status: string(jobs.StatusPlanning), SceneCount: res.Scenes})

	if err := o.loadPlans(ctx, j); err != nil {
		return res, err
	}
	o.setStatus(ctx, j, jobs.StatusPlanning, progressPlanned, "scene plans ready")

	if j.opts.OnlyPlan {
		o.complete(ctx, j, "")
		res.Stage = StageCompleted
		return res, nil
	}

	res.Stage = StageRendering
	if !j.opts.OnlyCombine {
		rendered, err := o.renderScenes(ctx, j)
		res.Rendered = rendered
		if err != nil {
			return res, err
		}
	}
	if j.opts.OnlyRender {
		o.complete(ctx, j, "")
		res.Stage = StageCompleted
		return res, nil
	}

	res.Stage = StageCombining
	combined, err := o.combine(ctx, j)
	if err != nil {
		return res, err
	}

	res.Stage = StageUploading
	artifact := o.upload(ctx, j, combined)

	o.complete(ctx, j, artifact)
	res.Stage = StageCompleted
	res.Artifact = artifact
	return res, nil
}

// loadOutline reuses a stored outline or generates one. A stored outline
// that does not parse is deleted and fails the job.
func (o *Orchestrator) loadOutline(ctx context.Context, j *job) error {
	path := j.layout.OutlinePath()
	text, err := j.layout.ReadOutline()
	if err != nil {
		return fmt.Errorf("failed to read outline: %w", err)
	}

	if text == "" {
		if o.opts.Planner == nil {
			return errors.New("no outline on disk and no planner configured")
		}
		outline, err := o.opts.Planner.Outline(ctx, j.req.Topic, j.req.Description, j.req.MaxScenes)
		if err != nil {
			return err
		}
		if err := utils.WriteFileAtomic(path, []byte(outline.Raw)); err != nil {
			return fmt.Errorf("failed to save outline: %w", err)
		}
		j.outline = outline
		o.logger.Info("job %s: outline with %d scenes", j.req.JobID, outline.Count())
		return nil
	}

	outline, err := ParseOutline(text)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			o.logger.Warn("failed to remove invalid outline %s: %v", path, rmErr)
		}
		var invalid *InvalidOutlineError
		if errors.As(err, &invalid) {
			invalid.Path = path
		}
		return err
	}
	j.outline = outline
	o.logger.Info("job %s: reusing outline with %d scenes", j.req.JobID, outline.Count())
	return nil
}

// loadPlans reads stored plans and generates the missing ones concurrently.
func (o *Orchestrator) loadPlans(ctx context.Context, j *job) error {
	var missing []int
	for _, n := range j.outline.Numbers() {
		plan, err := j.layout.ReadPlan(n)
		if err != nil {
			return fmt.Errorf("failed to read scene %d plan: %w", n, err)
		}
		if plan != "" {
			j.plans[n] = plan
			continue
		}
		missing = append(missing, n)
	}
	if len(missing) == 0 {
		return nil
	}
	if o.opts.Planner == nil {
		return fmt.Errorf("scenes %v have no plan and no planner is configured", missing)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxSceneConcurrency)
	for _, n := range missing {
		g.Go(func() error {
			sctx := llm.WithCallInfo(gctx, llm.CallInfo{JobID: j.req.JobID, Scene: n})
			plan, err := o.opts.Planner.Plan(sctx, j.req.Topic, j.req.Description, j.outline, n)
			if err != nil {
				return err
			}
			if err := utils.WriteFileAtomic(j.layout.PlanPath(n), []byte(plan)); err != nil {
				return fmt.Errorf("failed to save scene %d plan: %w", n, err)
			}
			mu.Lock()
			j.plans[n] = plan
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// pending returns the scenes this run must render.
func (o *Orchestrator) pending(j *job) []int {
	var out []int
	for _, n := range j.outline.Numbers() {
		if len(j.opts.Scenes) > 0 && !slices.Contains(j.opts.Scenes, n) {
			continue
		}
		if j.opts.OnlyRender {
			if !j.layout.HasCode(n) {
				out = append(out, n)
			}
			continue
		}
		if _, done := j.layout.Rendered(n); !done {
			out = append(out, n)
		}
	}
	return out
}

func (o *Orchestrator) renderScenes(ctx context.Context, j *job) ([]int, error) {
	todo := o.pending(j)
	total := j.outline.Count()
	done := total - len(todo)
	if len(todo) == 0 {
		o.logger.Info("job %s: every scene already rendered", j.req.JobID)
		return nil, nil
	}
	o.setStatus(ctx, j, jobs.StatusRendering, renderProgress(done, total),
		fmt.Sprintf("rendering %d of %d scenes", len(todo), total))

	var mu sync.Mutex
	var rendered []int
	units := make([]coordinator.Unit, 0, len(todo))
	for _, n := range todo {
		units = append(units, coordinator.Unit{
			SceneIndex: n,
			Run:        func(ctx context.Context) error { return o.processScene(ctx, j, n) },
		})
	}

	coord := coordinator.New(o.opts.MaxSceneConcurrency, coordinator.WithSettled(func(n int, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		done++
		rendered = append(rendered, n)
		progress := renderProgress(done, total)
		mu.Unlock()
		o.setStatus(ctx, j, jobs.StatusRendering, progress, fmt.Sprintf("scene %d rendered", n))
	}))

	err := coord.Run(ctx, units)
	mu.Lock()
	defer mu.Unlock()
	slices.Sort(rendered)
	return rendered, err
}

// processScene synthesizes and renders one scene. It owns the scene's
// directory for the duration of the call.
func (o *Orchestrator) processScene(ctx context.Context, j *job, n int) error {
	traceID, err := j.layout.TraceID(n)
	if err != nil {
		return err
	}
	ctx = llm.WithCallInfo(ctx, llm.CallInfo{JobID: j.req.JobID, Scene: n})
	logx.Debug(ctx, "pipeline", "scene %d trace %s", n, traceID)
	o.storeScene(ctx, storage.SceneRecord{VideoID: j.req.JobID, SceneIndex: n, TraceID: traceID, Status: storage.SceneRendering})

	ws := j.layout.Workspace(n)
	syn, err := o.opts.Synthesizer.Synthesize(ctx, synth.Request{
		Topic:        j.req.Topic,
		Description:  j.req.Description,
		SceneNumber:  n,
		SceneOutline: j.outline.Scenes[n],
		Plan:         j.plans[n],
	})
	if err != nil {
		o.storeScene(ctx, storage.SceneRecord{VideoID: j.req.JobID, SceneIndex: n, Status: storage.SceneFailed, Error: jobs.TruncateError(err.Error())})
		return err
	}
	if err := ws.SaveInitLog(syn.Response); err != nil {
		o.logger.Warn("scene %d: failed to save init log: %v", n, err)
	}

	res, err := o.opts.Scenes.Run(ctx, scene.Input{
		SceneIndex: n,
		Topic:      j.req.Topic,
		Plan:       j.plans[n],
		Category:   syn.Category,
		Code:       syn.Code,
		Workspace:  ws,
		OnSuccess:  o.sceneUploader(j),
	})
	if err != nil {
		o.storeScene(ctx, storage.SceneRecord{
			VideoID:    j.req.JobID,
			SceneIndex: n,
			Status:     storage.SceneFailed,
			Attempts:   res.Renders(),
			Error:      jobs.TruncateError(err.Error()),
		})
		return err
	}

	if err := j.layout.MarkRendered(n, res.ArtifactPath); err != nil {
		return fmt.Errorf("scene %d: failed to write render marker: %w", n, err)
	}
	o.storeScene(ctx, storage.SceneRecord{VideoID: j.req.JobID, SceneIndex: n, Status: storage.SceneRendered, Attempts: res.Renders()})
	return nil
}

// sceneUploader is the scene loop's success callback.
func (o *Orchestrator) sceneUploader(j *job) scene.SuccessFunc {
	return func(ctx context.Context, n int, artifact string) error {
		key := storage.BlobKey(j.req.JobID, "scenes", fmt.Sprintf("%s_scene%d.mp4", j.layout.Prefix, n))
		ref, err := o.opts.Storage.Upload(ctx, artifact, key)
		if err != nil {
			return err
		}
		o.storeScene(ctx, storage.SceneRecord{VideoID: j.req.JobID, SceneIndex: n, VideoURL: ref, Status: storage.SceneRendered})
		return nil
	}
}

// combine concatenates every scene in order. An existing combined video is
// reused.
func (o *Orchestrator) combine(ctx context.Context, j *job) (string, error) {
	out := j.layout.CombinedPath()
	if utils.FileExists(out) {
		o.logger.Info("job %s: reusing combined video %s", j.req.JobID, out)
		return out, nil
	}
	o.setStatus(ctx, j, jobs.StatusRendering, progressCombining, "combining scenes")

	videos := make([]string, 0, j.outline.Count())
	for _, n := range j.outline.Numbers() {
		artifact, ok := j.layout.Rendered(n)
		if !ok || !utils.FileExists(artifact) {
			return "", fmt.Errorf("scene %d has no rendered video to combine", n)
		}
		videos = append(videos, artifact)
	}
	if o.opts.Combiner == nil {
		return "", errors.New("no video combiner configured")
	}
	if err := o.opts.Combiner.Concat(ctx, videos, out); err != nil {
		return "", fmt.Errorf("failed to combine scenes: %w", err)
	}
	o.logger.Info("job %s: combined %d scenes into %s", j.req.JobID, len(videos), out)
	return out, nil
}

// upload stores the combined video and removes scene videos once it is
// stored. It returns the reference to advertise, falling back to the local
// path when the upload fails.
func (o *Orchestrator) upload(ctx context.Context, j *job, combined string) string {
	key := storage.BlobKey(j.req.JobID, fmt.Sprintf("%s_combined.mp4", j.layout.Prefix))
	ref, err := o.opts.Storage.Upload(ctx, combined, key)
	if err != nil {
		o.logger.Warn("job %s: combined video not uploaded, keeping local copy: %v", j.req.JobID, err)
		return combined
	}
	removed, err := utils.RemoveMatching(j.layout.MediaDir(), "*.mp4")
	if err != nil {
		o.logger.Warn("job %s: media cleanup incomplete: %v", j.req.JobID, err)
	} else if removed > 0 {
		o.logger.Debug("job %s: removed %d scene videos", j.req.JobID, removed)
	}
	return ref
}

func (o *Orchestrator) setStatus(ctx context.Context, j *job, status jobs.Status, progress int, msg string) {
	_, err := o.opts.Jobs.Update(ctx, j.req.JobID, func(job *jobs.Job) {
		job.Status = status
		// Progress never moves backwards, even with scenes settling out of order.
		if progress > job.Progress {
			job.Progress = progress
		}
		job.Message = msg
	})
	if err != nil {
		o.logger.Warn("job %s: status update failed: %v", j.req.JobID, err)
	}
	o.store(ctx, j, storage.VideoUpdate{Status: string(status)})
}

func (o *Orchestrator) complete(ctx context.Context, j *job, artifact string) {
	_, err := o.opts.Jobs.Update(ctx, j.req.JobID, func(job *jobs.Job) {
		job.Complete(artifact, time.Now())
	})
	if err != nil {
		o.logger.Warn("job %s: status update failed: %v", j.req.JobID, err)
	}
	o.store(ctx, j, storage.VideoUpdate{Status: string(jobs.StatusCompleted), CombinedURL: artifact})
	o.opts.Recorder.JobFinished(string(jobs.StatusCompleted))
	o.logger.Info("job %s completed", j.req.JobID)
}

func (o *Orchestrator) fail(ctx context.Context, j *job, cause error) {
	// Status writes must land even when the job was cancelled.
	ctx = context.WithoutCancel(ctx)
	_, err := o.opts.Jobs.Update(ctx, j.req.JobID, func(job *jobs.Job) {
		job.Fail(cause, time.Now())
	})
	if err != nil {
		o.logger.Warn("job %s: status update failed: %v", j.req.JobID, err)
	}
	o.store(ctx, j, storage.VideoUpdate{Status: string(jobs.StatusFailed), Error: jobs.TruncateError(cause.Error())})
	o.opts.Recorder.JobFinished(string(jobs.StatusFailed))
	o.logger.Error("job %s failed: %v", j.req.JobID, cause)
}

func (o *Orchestrator) store(ctx context.Context, j *job, u storage.VideoUpdate) {
	if err := o.opts.Storage.UpdateVideo(ctx, j.req.JobID, u); err != nil {
		o.logger.Warn("job %s: storage update failed: %v", j.req.JobID, err)
	}
}

func (o *Orchestrator) storeScene(ctx context.Context, r storage.SceneRecord) {
	if err := o.opts.Storage.UpsertScene(ctx, r); err != nil {
		o.logger.Warn("job %s: scene %d storage update failed: %v", r.VideoID, r.SceneIndex, err)
	}
}

func renderProgress(done, total int) int {
	if total <= 0 {
		return progressPlanned
	}
	return progressPlanned + (progressRenderEnd-progressPlanned)*done/total
}
