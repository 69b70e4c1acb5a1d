package dispatch

import (
	"context"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
)

// RemoteBackend is the interface a SaaS-mode client implements; this
// package never implements one itself; the SaaS wire protocol is out of
// scope here, same as spec.md's non-goal for transport/framing.
type RemoteBackend interface {
	Backend
}

// Dispatcher executes an Action against a remote backend when one is
// configured, falling back to Local for any error the remote side marks
// as KindFallback (UNSUPPORTED_TOOL, LOCAL_ONLY_ACTION, or an
// SaaS-mode-unsupported response) — every other remote error, including
// ordinary validation/conflict errors from a successfully-routed action,
// propagates to the caller untouched.
type Dispatcher struct {
	Local  *LocalBackend
	Remote RemoteBackend // nil means local-only; every action goes straight to Local
}

func New(local *LocalBackend, remote RemoteBackend) *Dispatcher {
	return &Dispatcher{Local: local, Remote: remote}
}

func (d *Dispatcher) Execute(ctx context.Context, action Action) (any, error) {
	if d.Remote == nil {
		return d.Local.Execute(ctx, action)
	}
	result, err := d.Remote.Execute(ctx, action)
	if err == nil {
		return result, nil
	}
	if sqlerr.OfKind(err, sqlerr.KindFallback) {
		return d.Local.Execute(ctx, action)
	}
	return nil, err
}
