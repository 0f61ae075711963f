package platform

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// ActivateByEvent activates every extension listening to event. Failures
// of one extension do not stop the others.
func (p *Platform) ActivateByEvent(ctx context.Context, event string) error {
	if !p.isStarted() {
		return ErrNotStarted
	}
	var errs error
	for _, rec := range p.Extensions() {
		if !rec.HasActivationEvent(event) {
			continue
		}
		errs = multierr.Append(errs, p.ActivateExtension(ctx, rec.ID))
	}
	return errs
}

// ActivateExtension activates id and its dependencies, dependencies
// first, in every host that has an entry point for them.
func (p *Platform) ActivateExtension(ctx context.Context, id string) error {
	if !p.isStarted() {
		return ErrNotStarted
	}
	return p.activate(ctx, id, make(map[string]bool))
}

// activate walks the dependency graph depth first. visiting holds false
// for extensions on the current path and true for finished ones.
func (p *Platform) activate(ctx context.Context, id string, visiting map[string]bool) error {
	if done, seen := visiting[id]; seen {
		if done {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDependencyCycle, id)
	}
	visiting[id] = false

	rec, ok := p.Extension(id)
	if !ok {
		return fmt.Errorf("%w: %s", extension.ErrExtensionNotFound, id)
	}
	for _, dep := range rec.Dependencies {
		if err := p.activate(ctx, dep, visiting); err != nil {
			return fmt.Errorf("activate %s: dependency: %w", id, err)
		}
	}

	var errs error
	for _, h := range p.Hosts() {
		isWeb := h.Kind() == extension.HostWorker
		if err := h.ActivateExtension(ctx, rec, isWeb); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s host: %w", h.Kind(), err))
		}
	}
	visiting[id] = true
	return errs
}

type statusHost interface {
	Status(id string) (protocol.ExtensionStatus, bool)
}

// Status returns the activation outcome of id in every host that
// reported one. A failed activation shows up with Failed set.
func (p *Platform) Status(id string) []protocol.ExtensionStatus {
	var out []protocol.ExtensionStatus
	for _, h := range p.Hosts() {
		sh, ok := h.(statusHost)
		if !ok {
			continue
		}
		if st, ok := sh.Status(id); ok {
			out = append(out, st)
		}
	}
	return out
}
