// Package debug keeps track of extension-contributed debug types and the
// sessions they create.
//
// Each debug type has at most one Contributor. Sessions are bound to the
// contributor that created them so terminate calls route back to it.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
)

type contribution struct {
	contributor Contributor
	disposables *lifecycle.Disposables
}

// Registry maps debug types to contributors and sessions to the
// contributor that created them.
type Registry struct {
	mu            sync.RWMutex
	contributions map[string]*contribution
	sessions      map[string]Contributor
	logger        *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		contributions: make(map[string]*contribution),
		sessions:      make(map[string]Contributor),
		logger:        logging.OrNop(logger).WithComponent("debug"),
	}
}

// RegisterContribution registers c for debugType (c.Type() when empty).
// A second registration for the same type is ignored with a warning and
// returns a no-op disposable. Contributors that are themselves
// disposable are disposed when the contribution goes away.
func (r *Registry) RegisterContribution(debugType string, c Contributor) lifecycle.Disposable {
	d, _ := r.TryRegisterContribution(debugType, c)
	return d
}

// TryRegisterContribution is RegisterContribution that also reports
// whether c was registered.
func (r *Registry) TryRegisterContribution(debugType string, c Contributor) (lifecycle.Disposable, bool) {
	if c == nil {
		return lifecycle.None, false
	}
	if debugType == "" {
		debugType = c.Type()
	}

	r.mu.Lock()
	if _, exists := r.contributions[debugType]; exists {
		r.mu.Unlock()
		r.logger.Warn("debug type %q is already registered; ignoring %s", debugType, c.Label())
		return lifecycle.None, false
	}
	entry := &contribution{contributor: c, disposables: lifecycle.NewDisposables()}
	if d, ok := c.(lifecycle.Disposable); ok {
		entry.disposables.Add(d)
	}
	r.contributions[debugType] = entry
	r.mu.Unlock()

	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		r.mu.Lock()
		if r.contributions[debugType] != entry {
			r.mu.Unlock()
			return nil
		}
		delete(r.contributions, debugType)
		r.mu.Unlock()
		return entry.disposables.Dispose()
	})), true
}

// UnregisterContribution removes the contributor of debugType. Removing an
// unknown type is a no-op.
func (r *Registry) UnregisterContribution(debugType string) {
	r.mu.Lock()
	entry, ok := r.contributions[debugType]
	delete(r.contributions, debugType)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := entry.disposables.Dispose(); err != nil {
		r.logger.Warn("dispose contribution %q: %v", debugType, err)
	}
}

// Contributor returns the contributor for debugType.
func (r *Registry) Contributor(debugType string) (Contributor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.contributions[debugType]
	if !ok {
		return nil, false
	}
	return entry.contributor, true
}

// Types returns the registered debug types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.contributions))
	for t := range r.contributions {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

// CreateSession asks the contributor of dto's configuration type to create
// a session and binds the returned id to it. ok is false when no
// contributor handles the type. An empty id, or one already bound to a
// session, is an error and leaves the bindings unchanged.
func (r *Registry) CreateSession(ctx context.Context, dto SessionDTO) (id string, ok bool, err error) {
	c, found := r.Contributor(dto.Configuration.Type())
	if !found {
		return "", false, nil
	}

	id, err = c.CreateDebugSession(ctx, dto)
	if err != nil {
		return "", false, fmt.Errorf("create %s session: %w", c.Type(), err)
	}

	if id == "" {
		return "", false, fmt.Errorf("create %s session: %w", c.Type(), ErrEmptySessionID)
	}

	r.mu.Lock()
	owner, bound := r.sessions[id]
	if !bound {
		r.sessions[id] = c
	}
	r.mu.Unlock()

	if bound {
		// The first binding keeps routing; the new session is torn down.
		r.logger.Warn("session %s from %s is already bound to %s", id, c.Type(), owner.Type())
		if err := c.TerminateDebugSession(ctx, id); err != nil {
			r.logger.Warn("terminate duplicate session %s: %v", id, err)
		}
		return "", false, fmt.Errorf("create %s session %s: %w", c.Type(), id, ErrDuplicateSession)
	}

	r.logger.Debug("session %s created by %s", id, c.Type())
	return id, true, nil
}

// TerminateSession unbinds id and asks its contributor to terminate it.
// Unknown or already terminated sessions are ignored.
func (r *Registry) TerminateSession(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := c.TerminateDebugSession(ctx, id); err != nil {
		return fmt.Errorf("terminate session %s: %w", id, err)
	}
	return nil
}

// Sessions returns the bound session ids, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SessionContributor returns the contributor bound to a session.
func (r *Registry) SessionContributor(id string) (Contributor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// GetDebuggersForLanguage asks every contributor, concurrently, whether it
// supports language. Contributors that fail are logged and skipped.
// The result is ordered by debug type.
func (r *Registry) GetDebuggersForLanguage(ctx context.Context, language string) []DebuggerInfo {
	types := r.Types()
	found := make([]*DebuggerInfo, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		c, ok := r.Contributor(t)
		if !ok {
			continue
		}
		g.Go(func() error {
			langs, err := c.Languages(gctx)
			if err != nil {
				r.logger.Warn("languages of %s: %v", t, err)
				return nil
			}
			for _, l := range langs {
				if strings.EqualFold(l, language) {
					found[i] = &DebuggerInfo{Type: t, Label: c.Label()}
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]DebuggerInfo, 0, len(found))
	for _, d := range found {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// ProvideDebugConfigurations returns the initial configurations of debugType.
func (r *Registry) ProvideDebugConfigurations(ctx context.Context, debugType, folder string, trigger TriggerKind) ([]Configuration, error) {
	c, ok := r.Contributor(debugType)
	if !ok {
		return nil, nil
	}
	return c.ProvideDebugConfigurations(ctx, folder, trigger)
}

// ResolveDebugConfiguration lets the contributor of cfg's type fill in
// missing attributes. Configurations of unknown types are returned as is.
func (r *Registry) ResolveDebugConfiguration(ctx context.Context, folder string, cfg Configuration) (Configuration, error) {
	c, ok := r.Contributor(cfg.Type())
	if !ok {
		return cfg, nil
	}
	return c.ResolveDebugConfiguration(ctx, folder, cfg)
}

// ResolveDebugConfigurationWithSubstitutedVariables is the second resolve
// pass, run after variables such as ${file} were substituted.
func (r *Registry) ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, folder string, cfg Configuration) (Configuration, error) {
	c, ok := r.Contributor(cfg.Type())
	if !ok {
		return cfg, nil
	}
	return c.ResolveDebugConfigurationWithSubstitutedVariables(ctx, folder, cfg)
}

// ConfigurationSnippets returns the snippets of debugType.
func (r *Registry) ConfigurationSnippets(ctx context.Context, debugType string) ([]json.RawMessage, error) {
	c, ok := r.Contributor(debugType)
	if !ok {
		return nil, nil
	}
	return c.ConfigurationSnippets(ctx)
}

// ValidateConfiguration checks cfg against the schema attributes of its
// contributor. The configuration is valid when it matches any schema, or
// when the contributor declares none.
func (r *Registry) ValidateConfiguration(ctx context.Context, cfg Configuration) error {
	if cfg.Type() == "" {
		return ErrNoType
	}
	c, ok := r.Contributor(cfg.Type())
	if !ok {
		return nil
	}
	schemas, err := c.SchemaAttributes(ctx)
	if err != nil {
		return fmt.Errorf("schema attributes of %s: %w", cfg.Type(), err)
	}
	if len(schemas) == 0 {
		return nil
	}

	doc := gojsonschema.NewBytesLoader(cfg)
	var errs error
	for _, schema := range schemas {
		res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), doc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if res.Valid() {
			return nil
		}
		for _, re := range res.Errors() {
			errs = multierr.Append(errs, fmt.Errorf("%s", re.String()))
		}
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errs)
}

// Dispose terminates every bound session, then drops all contributions.
func (r *Registry) Dispose(ctx context.Context) error {
	var errs error
	for _, id := range r.Sessions() {
		errs = multierr.Append(errs, r.TerminateSession(ctx, id))
	}

	r.mu.Lock()
	entries := r.contributions
	r.contributions = make(map[string]*contribution)
	r.sessions = make(map[string]Contributor)
	r.mu.Unlock()

	for _, t := range sortedKeys(entries) {
		errs = multierr.Append(errs, entries[t].disposables.Dispose())
	}
	if errs != nil {
		r.logger.Warn("debug registry dispose: %v", errs)
	}
	return errs
}

func sortedKeys(m map[string]*contribution) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
