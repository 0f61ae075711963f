// Package platform wires the main-process side of the extension system:
// discovery, one host service per enabled host kind, activation by event
// or by identifier, file operations with participation, the debug
// registry and an orderly shutdown.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/exthost/internal/config"
	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/exthost/runtime"
	"github.com/dshills/exthost/internal/fileops"
	"github.com/dshills/exthost/internal/logging"
)

// StartupEvent activates extensions declaring "*".
const StartupEvent = "*"

// shutdownStep bounds each remote call made while shutting down.
const shutdownStep = 5 * time.Second

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Platform) { p.logger = l }
}

// WithModules registers Go extension modules in the worker host.
func WithModules(modules map[string]runtime.ModuleFactory) Option {
	return func(p *Platform) {
		for name, f := range modules {
			p.modules[name] = f
		}
	}
}

// WithProcessLauncher replaces creation of the process host.
func WithProcessLauncher(launch exthost.LaunchFunc) Option {
	return func(p *Platform) { p.processLaunch = launch }
}

// Platform is the main-side extension system.
type Platform struct {
	cfg           *config.Config
	logger        *logging.Logger
	modules       map[string]runtime.ModuleFactory
	processLaunch exthost.LaunchFunc

	loader  *extension.Loader
	cache   *extension.Cache
	debug   *debug.Registry
	fileops *fileops.Service

	mu      sync.RWMutex
	started bool
	catalog []*extension.Record
	hosts   []exthost.HostService
}

// New creates a platform for cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Platform {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Platform{
		cfg:     cfg,
		modules: make(map[string]runtime.ModuleFactory),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger).WithComponent("platform")
	p.loader = extension.NewLoader(extension.WithPaths(cfg.Extensions.Paths...))
	if cfg.Extensions.CachePath != "" {
		p.cache = extension.NewCache(cfg.Extensions.CachePath)
	}
	p.debug = debug.NewRegistry(p.logger)
	p.fileops = fileops.NewService(p.participants,
		fileops.WithTimeout(cfg.Participants.Timeout),
		fileops.WithLogger(p.logger),
	)
	return p
}

// Start discovers extensions, starts the enabled hosts and activates the
// startup extensions. A host that fails to start is reported in the
// returned error; the others keep running.
func (p *Platform) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	recs, err := p.discover()
	if err != nil {
		return err
	}
	hosts := p.createHosts()

	p.mu.Lock()
	p.catalog = recs
	p.hosts = hosts
	p.mu.Unlock()

	var (
		errsMu sync.Mutex
		errs   error
	)
	var g errgroup.Group
	for _, h := range hosts {
		g.Go(func() error {
			err := h.UpdateExtensionData(ctx, recs)
			if err == nil {
				_, err = h.Activate(ctx)
			}
			if err != nil {
				errsMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s host: %w", h.Kind(), err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("started %d hosts with %d extensions", len(hosts), len(recs))
	return multierr.Append(errs, p.ActivateByEvent(ctx, StartupEvent))
}

// discover scans the extension paths. An empty scan falls back to the
// cached catalog; a non-empty one refreshes it.
func (p *Platform) discover() ([]*extension.Record, error) {
	recs, err := p.loader.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover extensions: %w", err)
	}
	for dir, ferr := range p.loader.Failures() {
		p.logger.Warn("skip extension %s: %v", dir, ferr)
	}
	if p.cache == nil {
		return recs, nil
	}
	if len(recs) == 0 {
		cached, err := p.cache.Load()
		if err != nil {
			p.logger.Warn("load catalog cache: %v", err)
			return recs, nil
		}
		return cached, nil
	}
	if err := p.cache.Save(recs); err != nil {
		p.logger.Warn("save catalog cache: %v", err)
	}
	return recs, nil
}

func (p *Platform) createHosts() []exthost.HostService {
	cfg := p.cfg.Hosts
	opts := []exthost.Option{
		exthost.WithLogger(p.logger),
		exthost.WithDebugRegistry(p.debug),
		exthost.WithStartTimeout(cfg.StartTimeout),
	}

	var hosts []exthost.HostService
	if cfg.Process.Enabled {
		hosts = append(hosts, exthost.NewService(&exthost.ProcessStrategy{
			Command:    cfg.Process.Command,
			Args:       cfg.Process.Args,
			Logger:     p.logger,
			LaunchFunc: p.processLaunch,
		}, opts...))
	}
	if cfg.Worker.Enabled {
		hosts = append(hosts, exthost.NewService(&exthost.WorkerStrategy{
			NewRuntime: p.newWorkerRuntime,
			StaticPath: cfg.Worker.StaticPath,
		}, opts...))
	}
	hosts = append(hosts, exthost.NewViewService())
	return hosts
}

func (p *Platform) newWorkerRuntime() *runtime.Runtime {
	return runtime.New(extension.HostWorker,
		runtime.WithModules(p.modules),
		runtime.WithLogger(p.logger),
		runtime.WithScriptTimeout(p.cfg.Lua.ExecutionTimeout),
	)
}

// Extensions returns the catalog.
func (p *Platform) Extensions() []*extension.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*extension.Record(nil), p.catalog...)
}

// Extension returns the catalog entry for id.
func (p *Platform) Extension(id string) (*extension.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rec := range p.catalog {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// Hosts returns the host services in start order.
func (p *Platform) Hosts() []exthost.HostService {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]exthost.HostService(nil), p.hosts...)
}

// Host returns the host service of kind.
func (p *Platform) Host(kind extension.HostKind) (exthost.HostService, bool) {
	for _, h := range p.Hosts() {
		if h.Kind() == kind {
			return h, true
		}
	}
	return nil, false
}

// Reload rediscovers extensions and pushes the new catalog to every host.
func (p *Platform) Reload(ctx context.Context) error {
	if !p.isStarted() {
		return ErrNotStarted
	}
	recs, err := p.discover()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.catalog = recs
	p.mu.Unlock()

	var errs error
	for _, h := range p.Hosts() {
		if err := h.UpdateExtensionData(ctx, recs); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s host: %w", h.Kind(), err))
		}
	}
	return errs
}

// FileOperations returns the file operation service. Every running host
// participates.
func (p *Platform) FileOperations() *fileops.Service { return p.fileops }

// Debug returns the main-side debug registry.
func (p *Platform) Debug() *debug.Registry { return p.debug }

type fileEventHost interface {
	FileSystemEvents() protocol.ExtHostFileSystemEvent
}

func (p *Platform) participants() []protocol.ExtHostFileSystemEvent {
	var out []protocol.ExtHostFileSystemEvent
	for _, h := range p.Hosts() {
		fh, ok := h.(fileEventHost)
		if !ok {
			continue
		}
		if ev := fh.FileSystemEvents(); ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

func (p *Platform) isStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

type extensionHost interface {
	ExtensionService() protocol.ExtHostExtensionService
	Dispose(ctx context.Context) error
}

// Shutdown deactivates every extension, withdraws debug contributions and
// terminates the hosts. It reports every failure it met.
func (p *Platform) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	hosts := p.hosts
	p.hosts = nil
	p.mu.Unlock()

	var errs error
	for _, h := range hosts {
		eh, ok := h.(extensionHost)
		if !ok {
			continue
		}
		if svc := eh.ExtensionService(); svc != nil {
			stepCtx, cancel := context.WithTimeout(ctx, shutdownStep)
			if err := svc.DeactivateAll(stepCtx); err != nil {
				p.logger.Warn("deactivate in %s host: %v", h.Kind(), err)
			}
			cancel()
		}
	}

	if err := p.debug.Dispose(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("dispose debug registry: %w", err))
	}

	for _, h := range hosts {
		var err error
		if eh, ok := h.(extensionHost); ok {
			err = eh.Dispose(ctx)
		} else {
			err = h.DisposeProcess(ctx)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dispose %s host: %w", h.Kind(), err))
		}
	}
	p.logger.Info("shut down")
	return errs
}
