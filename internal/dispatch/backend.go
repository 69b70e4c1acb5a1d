package dispatch

import "context"

// Backend executes one decoded Action and returns its result value,
// whatever shape that tool's result naturally has (a *model.Decision, a
// []SearchResult, a batch.Result, ...). Execute never receives a
// tool/action string pair directly — those are already baked into the
// concrete Action type by the time a caller holds one.
type Backend interface {
	Execute(ctx context.Context, action Action) (any, error)
}
