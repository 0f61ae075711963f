// Package runtime is the remote side of an extension host: it keeps the
// catalog pushed by the main process, loads and activates extension
// modules, and serves the host-side protocol contracts.
package runtime

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/extension/activation"
	"github.com/dshills/exthost/internal/exthost/api"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/exthost/runtime/luaext"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
	"github.com/dshills/exthost/internal/participant"
	"github.com/dshills/exthost/internal/rpc"
)

// ModuleFactory builds a Go-native extension module. It is addressed by
// entry points of the form "go:<name>".
type ModuleFactory func(ctx context.Context, actx *api.Context) (activation.Module, error)

// Option configures a Runtime.
type Option func(*Runtime)

// WithModule registers a Go-native module under name.
func WithModule(name string, f ModuleFactory) Option {
	return func(r *Runtime) {
		r.modules[name] = f
	}
}

// WithModules registers several Go-native modules.
func WithModules(modules map[string]ModuleFactory) Option {
	return func(r *Runtime) {
		for name, f := range modules {
			r.modules[name] = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithScriptTimeout bounds each call into a Lua extension.
func WithScriptTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.scriptTimeout = d
	}
}

// Runtime hosts extensions of one kind.
type Runtime struct {
	kind          extension.HostKind
	logger        *logging.Logger
	modules       map[string]ModuleFactory
	scriptTimeout time.Duration

	registry     *activation.Registry
	participants *participant.Coordinator
	debug        *debug.Registry
	activations  singleflight.Group

	mu      sync.RWMutex
	catalog map[string]*extension.Record
	main    protocol.MainThreadExtensionService
	mainDbg protocol.MainThreadDebug

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc
	cancelled map[string]bool
}

// New creates a runtime for kind.
func New(kind extension.HostKind, opts ...Option) *Runtime {
	r := &Runtime{
		kind:          kind,
		modules:       make(map[string]ModuleFactory),
		scriptTimeout: luaext.DefaultExecutionTimeout,
		catalog:       make(map[string]*extension.Record),
		pending:       make(map[string]context.CancelFunc),
		cancelled:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).WithFields(map[string]any{
		"component": "runtime",
		"host":      kind.String(),
	})
	r.registry = activation.NewRegistry(r.logger)
	r.participants = participant.NewCoordinator(r.logger)
	r.debug = debug.NewRegistry(r.logger)
	return r
}

// Kind returns the host kind.
func (r *Runtime) Kind() extension.HostKind { return r.kind }

// Registry returns the activation registry.
func (r *Runtime) Registry() *activation.Registry { return r.registry }

// Participants returns the file participant coordinator.
func (r *Runtime) Participants() *participant.Coordinator { return r.participants }

// Debug returns the host-side debug registry.
func (r *Runtime) Debug() *debug.Registry { return r.debug }

// Attach registers the host-side services on p and binds the main-side
// proxies. Disposing the result unregisters the services.
func (r *Runtime) Attach(p *rpc.Protocol) lifecycle.Disposable {
	r.mu.Lock()
	r.main = protocol.NewMainThreadExtensionServiceProxy(p)
	r.mainDbg = protocol.NewMainThreadDebugProxy(p)
	r.mu.Unlock()

	ds := lifecycle.NewDisposables()
	ds.Add(p.Set(protocol.ExtHostExtensionServiceID, protocol.ExtHostExtensionServiceMethods(&extensionService{r})))
	ds.Add(p.Set(protocol.ExtHostFileSystemEventID, protocol.ExtHostFileSystemEventMethods(&fileSystemEvents{r})))
	ds.Add(p.Set(protocol.ExtHostDebugID, protocol.ExtHostDebugMethods(&debugService{r})))
	return ds
}

// Serve runs the runtime over rwc until ctx is done or the peer goes away.
// Activated extensions are deactivated before it returns.
func (r *Runtime) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	p := rpc.NewProtocol(rwc, r.logger)
	services := r.Attach(p)
	defer services.Dispose()

	var err error
	select {
	case <-ctx.Done():
	case <-p.Done():
		if perr := p.Err(); perr != nil && !errors.Is(perr, io.EOF) && !errors.Is(perr, io.ErrClosedPipe) {
			err = perr
		}
	}

	r.shutdown()
	_ = p.Close()
	return err
}

func (r *Runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.registry.DeactivateAll(ctx)
	if err := r.debug.Dispose(ctx); err != nil {
		r.logger.Warn("dispose debug contributions: %v", err)
	}
}

// SetCatalog replaces the known extensions.
func (r *Runtime) SetCatalog(recs []*extension.Record) {
	catalog := make(map[string]*extension.Record, len(recs))
	for _, rec := range recs {
		if rec != nil {
			catalog[rec.ID] = rec
		}
	}
	r.mu.Lock()
	r.catalog = catalog
	r.mu.Unlock()
	r.logger.Debug("catalog updated: %d extensions", len(catalog))
}

// Catalog returns the known extensions sorted by id.
func (r *Runtime) Catalog() []*extension.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*extension.Record, 0, len(r.catalog))
	for _, rec := range r.catalog {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lookup finds a record by id, extension path or entry path of this kind.
func (r *Runtime) lookup(key string) (*extension.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.catalog[key]; ok {
		return rec, true
	}
	for _, rec := range r.catalog {
		if rec.Path == key || rec.EntryPath(r.kind) == key {
			return rec, true
		}
	}
	return nil, false
}

func (r *Runtime) mainService() protocol.MainThreadExtensionService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.main
}

func (r *Runtime) mainDebug() protocol.MainThreadDebug {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mainDbg
}
