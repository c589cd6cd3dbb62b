// Package scene drives one scene from its synthesized code to a rendered
// video: render, and on failure repair and render again, until the render
// succeeds or the retry budget is spent.
//
// Version 0 is the synthesized code. Each repair produces the next version,
// so a scene is rendered at most MaxRetries+1 times. A repair's fix is held
// as a PendingFix and committed to Fix-Memory only if the render of the code
// it produced succeeds; the next failure discards it.
package scene

import (
	"context"
	"fmt"
	"strings"

	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/metrics"
	"lessonforge/pkg/render"
	"lessonforge/pkg/repair"
	"lessonforge/pkg/utils"
)

// DefaultMaxRetries is the repair budget when none is configured.
const DefaultMaxRetries = 5

// visualDiagnostic stands in for an error message on fixes that came from
// visual review of a successful render.
const visualDiagnostic = "visual review requested layout changes"

// State is the loop's state.
type State string

const (
	StateSynthesized State = "SYNTHESIZED"
	StateRendering   State = "RENDERING"
	StateRepairing   State = "REPAIRING"
	StateRendered    State = "RENDERED"
	StateAborted     State = "ABORTED"
)

// IsTerminal reports whether the loop has finished.
func (s State) IsTerminal() bool {
	return s == StateRendered || s == StateAborted
}

// SceneRenderFailedError is returned when a scene cannot be rendered. It
// aborts the owning job.
type SceneRenderFailedError struct {
	SceneIndex     int
	LastDiagnostic string
	Attempts       int
	Err            error
}

func (e *SceneRenderFailedError) Error() string {
	diag := utils.TruncateRunes(strings.TrimSpace(e.LastDiagnostic), 300)
	if e.Err != nil {
		return fmt.Sprintf("scene %d failed to render after %d attempts: %v", e.SceneIndex, e.Attempts, e.Err)
	}
	return fmt.Sprintf("scene %d failed to render after %d attempts: %s", e.SceneIndex, e.Attempts, diag)
}

func (e *SceneRenderFailedError) Unwrap() error { return e.Err }

// PendingFix is a fix whose code has not been rendered yet.
type PendingFix struct {
	ErrorMessage string
	OriginalCode string
	FixedCode    string
	Method       string
}

// Record promotes the fix to a Fix-Memory record.
func (p PendingFix) Record(topic, category string) fixmemory.Record {
	return fixmemory.Record{
		ErrorMessage:  p.ErrorMessage,
		OriginalCode:  p.OriginalCode,
		FixedCode:     p.FixedCode,
		Topic:         topic,
		SceneCategory: category,
		Method:        p.Method,
	}
}

// FixCommitter stores proven fixes.
type FixCommitter interface {
	Commit(ctx context.Context, r fixmemory.Record) bool
}

// Reviewer inspects a successful render and may propose improved code.
type Reviewer interface {
	Name() string
	Review(ctx context.Context, req repair.Request, artifactPath string) (string, bool, error)
}

// SuccessFunc is called once per scene with the final rendered artifact. Its
// error is logged and never changes the scene's outcome.
type SuccessFunc func(ctx context.Context, sceneIndex int, artifactPath string) error

// Attempt is one rendered version of a scene.
type Attempt struct {
	Version int
	Method  string // "" for the synthesized version
	Code    string
	Outcome render.Outcome
}

// Input is one scene to drive.
type Input struct {
	SceneIndex int
	Topic      string
	Plan       string
	Category   string
	Code       string
	Workspace  Workspace
	OnSuccess  SuccessFunc
}

// Result describes how a scene ended.
type Result struct {
	State        State
	Code         string
	ArtifactPath string
	Attempts     []Attempt
	Repairs      int
	Commits      int
}

// Renders returns the number of render calls made.
func (r *Result) Renders() int { return len(r.Attempts) }

// Options configures a Loop.
type Options struct {
	Renderer   render.Renderer
	Strategies []repair.Strategy
	// Reviewer is optional; when set, successful renders are reviewed while
	// budget remains.
	Reviewer   Reviewer
	Memory     FixCommitter
	Recorder   metrics.PipelineRecorder
	MaxRetries int
}

// Loop is the render-and-repair state machine. A Loop holds no per-scene
// state and may drive many scenes concurrently.
type Loop struct {
	renderer   render.Renderer
	strategies []repair.Strategy
	reviewer   Reviewer
	memory     FixCommitter
	recorder   metrics.PipelineRecorder
	maxRetries int
	logger     *logx.Logger
}

// NewLoop creates a loop.
func NewLoop(opts Options) *Loop {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	return &Loop{
		renderer:   opts.Renderer,
		strategies: opts.Strategies,
		reviewer:   opts.Reviewer,
		memory:     opts.Memory,
		recorder:   opts.Recorder,
		maxRetries: opts.MaxRetries,
		logger:     logx.NewLogger("scene"),
	}
}

// run is the mutable state of one scene's loop.
type run struct {
	in       Input
	res      Result
	version  int
	code     string
	method   string
	pending  *PendingFix
	lastGood *Attempt
	lastDiag string
}

// Run drives one scene to RENDERED or ABORTED. Cancelling ctx stops the loop
// from starting further repairs; a render or model call already in flight is
// allowed to finish.
func (l *Loop) Run(ctx context.Context, in Input) (Result, error) {
	r := &run{in: in, code: in.Code, res: Result{State: StateSynthesized}}
	// Calls in flight complete even when the job is aborted.
	callCtx := context.WithoutCancel(ctx)

	for {
		if r.version > 0 && ctx.Err() != nil {
			return l.abort(r, fmt.Errorf("job aborted: %w", ctx.Err()))
		}

		r.res.State = StateRendering
		outcome, err := l.render(callCtx, r)
		if err != nil {
			return l.abort(r, err)
		}

		if outcome.Success {
			if l.settle(ctx, r, outcome) {
				continue
			}
			return l.finish(ctx, r)
		}

		// The pending fix never rendered.
		r.pending = nil
		r.lastDiag = outcome.Diagnostic
		l.logger.Warn("scene %d: v%d failed to render (%s)", in.SceneIndex, r.version, outcome.Class)

		if r.version >= l.maxRetries {
			if r.lastGood != nil {
				return l.fallback(ctx, r)
			}
			return l.abort(r, nil)
		}
		if ctx.Err() != nil {
			return l.abort(r, fmt.Errorf("job aborted: %w", ctx.Err()))
		}

		r.res.State = StateRepairing
		l.repair(callCtx, r)
	}
}

func (l *Loop) render(ctx context.Context, r *run) (render.Outcome, error) {
	path, err := r.in.Workspace.SaveCode(r.version, r.code)
	if err != nil {
		return render.Outcome{}, fmt.Errorf("failed to save scene code: %w", err)
	}
	outcome, err := l.renderer.Render(ctx, render.Request{
		SceneNumber: r.in.SceneIndex,
		Version:     r.version,
		Code:        r.code,
		SourcePath:  path,
		MediaDir:    r.in.Workspace.MediaDir(),
	})
	if err != nil {
		return render.Outcome{}, err
	}
	l.recorder.RenderAttempt(outcome.Success)
	r.res.Attempts = append(r.res.Attempts, Attempt{Version: r.version, Method: r.method, Code: r.code, Outcome: outcome})
	return outcome, nil
}

// settle handles a successful render: it commits the pending fix and, when
// review applies and proposes changes, stages the next version. It reports
// whether the loop should render again.
func (l *Loop) settle(ctx context.Context, r *run, outcome render.Outcome) bool {
	if r.pending != nil {
		if l.memory != nil && l.memory.Commit(ctx, r.pending.Record(r.in.Topic, r.in.Category)) {
			r.res.Commits++
			l.recorder.FixCommitted(r.pending.Method)
		}
		r.pending = nil
	}
	last := r.res.Attempts[len(r.res.Attempts)-1]
	r.lastGood = &last

	if l.reviewer == nil || r.version >= l.maxRetries || ctx.Err() != nil {
		return false
	}

	improved, changed, err := l.reviewer.Review(context.WithoutCancel(ctx), l.request(r), outcome.ArtifactPath)
	if err != nil {
		l.logger.Warn("scene %d: visual review failed, keeping v%d: %v", r.in.SceneIndex, r.version, err)
		l.recorder.RepairAttempt(l.reviewer.Name(), false)
		return false
	}
	l.recorder.RepairAttempt(l.reviewer.Name(), changed)
	if !changed {
		return false
	}

	r.res.Repairs++
	r.pending = &PendingFix{
		ErrorMessage: visualDiagnostic,
		OriginalCode: r.code,
		FixedCode:    improved,
		Method:       l.reviewer.Name(),
	}
	l.advance(r, improved, l.reviewer.Name(), "visual review of v"+fmt.Sprint(r.version))
	return true
}

// repair runs the strategies in order and stages the first new code. When
// none produces new code the same code is rendered again, which still
// consumes budget.
func (l *Loop) repair(ctx context.Context, r *run) {
	r.res.Repairs++
	req := l.request(r)

	for _, s := range l.strategies {
		code, ok := s.Attempt(ctx, req)
		l.recorder.RepairAttempt(s.Name(), ok)
		if !ok || strings.TrimSpace(code) == strings.TrimSpace(r.code) {
			continue
		}
		l.logger.Info("scene %d: %s repair produced v%d", r.in.SceneIndex, s.Name(), r.version+1)
		r.pending = &PendingFix{
			ErrorMessage: r.lastDiag,
			OriginalCode: r.code,
			FixedCode:    code,
			Method:       s.Name(),
		}
		l.advance(r, code, s.Name(), r.lastDiag)
		return
	}

	l.logger.Warn("scene %d: no repair strategy produced new code for v%d", r.in.SceneIndex, r.version)
	l.advance(r, r.code, "", r.lastDiag)
}

func (l *Loop) advance(r *run, code, method, reason string) {
	r.version++
	r.code = code
	r.method = method
	log := fmt.Sprintf("method: %s\n\n%s\n", methodLabel(method), reason)
	if err := r.in.Workspace.SaveFixLog(r.version, log); err != nil {
		l.logger.Warn("scene %d: failed to save fix log: %v", r.in.SceneIndex, err)
	}
}

func (l *Loop) request(r *run) repair.Request {
	return repair.Request{
		Topic:       r.in.Topic,
		SceneNumber: r.in.SceneIndex,
		Plan:        r.in.Plan,
		Category:    r.in.Category,
		Code:        r.code,
		Diagnostic:  r.lastDiag,
	}
}

func (l *Loop) finish(ctx context.Context, r *run) (Result, error) {
	r.res.State = StateRendered
	r.res.Code = r.lastGood.Code
	r.res.ArtifactPath = r.lastGood.Outcome.ArtifactPath
	l.recorder.SceneFinished(string(StateRendered), r.res.Renders())
	l.logger.Info("scene %d: rendered v%d after %d renders", r.in.SceneIndex, r.lastGood.Version, r.res.Renders())

	if r.in.OnSuccess != nil {
		if err := r.in.OnSuccess(context.WithoutCancel(ctx), r.in.SceneIndex, r.res.ArtifactPath); err != nil {
			l.logger.Warn("scene %d: success callback failed: %v", r.in.SceneIndex, err)
		}
	}
	return r.res, nil
}

// fallback ends the loop with the last successful render when a
// review-driven version could not be rendered within budget.
func (l *Loop) fallback(ctx context.Context, r *run) (Result, error) {
	l.logger.Warn("scene %d: keeping v%d, later versions failed to render", r.in.SceneIndex, r.lastGood.Version)
	return l.finish(ctx, r)
}

func (l *Loop) abort(r *run, cause error) (Result, error) {
	r.pending = nil
	r.res.State = StateAborted
	r.res.Code = r.code
	l.recorder.SceneFinished(string(StateAborted), r.res.Renders())
	err := &SceneRenderFailedError{
		SceneIndex:     r.in.SceneIndex,
		LastDiagnostic: r.lastDiag,
		Attempts:       r.res.Renders(),
		Err:            cause,
	}
	l.logger.Error("%v", err)
	return r.res, err
}

func methodLabel(method string) string {
	if method == "" {
		return "retry"
	}
	return method
}
