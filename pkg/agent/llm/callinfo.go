package llm

import "context"

// CallInfo labels a model call for metrics and logs.
type CallInfo struct {
	JobID string
	Scene int
	Stage string // outline, plan, synthesize, format_repair, query, repair, visual
}

type callInfoKey struct{}

// WithCallInfo attaches call labels to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// WithStage returns ctx with the stage label replaced, keeping job and scene.
func WithStage(ctx context.Context, stage string) context.Context {
	info := CallInfoFrom(ctx)
	info.Stage = stage
	return WithCallInfo(ctx, info)
}

// CallInfoFrom returns the call labels stored in ctx, or zero values.
func CallInfoFrom(ctx context.Context) CallInfo {
	if info, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		return info
	}
	return CallInfo{}
}
