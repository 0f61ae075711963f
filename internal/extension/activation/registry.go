// Package activation tracks which extensions are active in a host and
// orchestrates their deactivation.
package activation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/exthost/internal/logging"
)

// Registry is the single source of truth for activated extensions.
// Each registry is an owned object; hosts and tests create their own.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*ActivatedExtension
	logger  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		records: make(map[string]*ActivatedExtension),
		logger:  logging.OrNop(logger).WithComponent("activation"),
	}
}

// Has reports whether id has a record.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// Get returns the record for id, or nil.
func (r *Registry) Get(id string) *ActivatedExtension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

// All returns every record sorted by identifier.
func (r *Registry) All() []*ActivatedExtension {
	r.mu.RLock()
	out := make([]*ActivatedExtension, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Set registers rec under id, replacing any previous record.
func (r *Registry) Set(id string, rec *ActivatedExtension) {
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
}

// Delete removes the record for id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear drops every record without deactivating.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.records = make(map[string]*ActivatedExtension)
	r.mu.Unlock()
}

// DeactivateAll deactivates every registered extension in parallel. An
// extension is deactivated at most once however often this is called.
// Failures and panics are logged per extension and never returned; the
// records stay in the registry for the caller to clear.
func (r *Registry) DeactivateAll(ctx context.Context) {
	var g errgroup.Group
	for _, rec := range r.All() {
		g.Go(func() error {
			r.deactivate(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// deactivate runs at most once per record.
func (r *Registry) deactivate(ctx context.Context, rec *ActivatedExtension) {
	rec.deactivateOnce.Do(func() { r.deactivateModules(ctx, rec) })
}

func (r *Registry) deactivateModules(ctx context.Context, rec *ActivatedExtension) {
	log := r.logger.WithField("extension", rec.ID)

	for _, m := range []Module{rec.Module, rec.ExtendModule} {
		d, ok := m.(Deactivator)
		if !ok {
			continue
		}
		if err := callDeactivate(ctx, d); err != nil {
			log.Error("deactivate failed: %v", err)
		}
	}

	if rec.Subscriptions == nil {
		return
	}
	// Disposables.Dispose runs in insertion order and keeps going past failures.
	for _, err := range multierr.Errors(rec.Subscriptions.Dispose()) {
		log.Error("dispose subscription failed: %v", err)
	}
}

func callDeactivate(ctx context.Context, d Deactivator) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("deactivate panic: %v", rec)
		}
	}()
	return d.Deactivate(ctx)
}
