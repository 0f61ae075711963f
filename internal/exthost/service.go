// Package exthost manages extension hosts from the main process.
//
// A host service owns one host of a given kind: it launches it, wraps the
// transport in an rpc.Protocol, pushes the extension catalog and only
// then lets extension activations through. Readiness is tracked by a
// gate.Latch so that callers can never reach a host that does not know
// the catalog yet.
package exthost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/gate"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
	"github.com/dshills/exthost/internal/rpc"
)

// DefaultStartTimeout bounds launching a host and synchronizing its catalog.
const DefaultStartTimeout = 30 * time.Second

// HostService is the main-side handle of one extension host.
type HostService interface {
	Kind() extension.HostKind
	// Activate starts the host once. Concurrent and later callers share
	// the outcome until the process is disposed.
	Activate(ctx context.Context) (*rpc.Protocol, error)
	// ActivateExtension activates rec in the host once the catalog is
	// synchronized. It is a no-op for extensions without an entry point
	// for this host.
	ActivateExtension(ctx context.Context, rec *extension.Record, isWebExtension bool) error
	// UpdateExtensionData replaces the cached catalog and pushes it to an
	// established host.
	UpdateExtensionData(ctx context.Context, recs []*extension.Record) error
	// Proxy returns the channel, or nil before it is established.
	Proxy() *rpc.Protocol
	DisposeAPIFactory()
	DisposeProcess(ctx context.Context) error
	OnDidUpdateExtensions(fn func([]*extension.Record)) lifecycle.Disposable
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithDebugRegistry bridges debug types registered in the host into r.
func WithDebugRegistry(r *debug.Registry) Option {
	return func(s *Service) { s.debug = r }
}

// WithStartTimeout bounds launching and synchronizing the host.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Service) { s.startTimeout = d }
}

// startup is one activation attempt, shared by every Activate caller of
// the same generation.
type startup struct {
	done     chan struct{}
	protocol *rpc.Protocol
	err      error
}

// Service implements HostService for process and worker hosts.
type Service struct {
	strategy     Strategy
	logger       *logging.Logger
	debug        *debug.Registry
	startTimeout time.Duration

	generation *atomic.Uint64
	disposed   *atomic.Bool

	mu         sync.Mutex
	latch      *gate.Latch
	current    *startup
	host       Host
	protocol   *rpc.Protocol
	apiFactory *lifecycle.Disposables

	catalogMu  sync.RWMutex
	extensions []*extension.Record
	statuses   map[string]protocol.ExtensionStatus

	listenersMu sync.Mutex
	listeners   map[*func([]*extension.Record)]struct{}
}

var _ HostService = (*Service)(nil)

// NewService creates a service for strategy. The host is not started
// until Activate.
func NewService(strategy Strategy, opts ...Option) *Service {
	s := &Service{
		strategy:     strategy,
		startTimeout: DefaultStartTimeout,
		generation:   atomic.NewUint64(0),
		disposed:     atomic.NewBool(false),
		latch:        gate.New(),
		statuses:     make(map[string]protocol.ExtensionStatus),
		listeners:    make(map[*func([]*extension.Record)]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithFields(map[string]any{
		"component": "exthost",
		"host":      strategy.Kind().String(),
	})
	return s
}

// Kind returns the host kind.
func (s *Service) Kind() extension.HostKind { return s.strategy.Kind() }

// Latch returns the readiness latch of the current generation.
func (s *Service) Latch() *gate.Latch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latch
}

// Activate starts the host and synchronizes its catalog.
func (s *Service) Activate(ctx context.Context) (*rpc.Protocol, error) {
	if s.disposed.Load() {
		return nil, ErrDisposed
	}

	s.mu.Lock()
	st := s.current
	if st == nil {
		st = &startup{done: make(chan struct{})}
		s.current = st
		go s.start(st, s.generation.Load(), s.latch)
	}
	s.mu.Unlock()

	select {
	case <-st.done:
		return st.protocol, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) start(st *startup, gen uint64, latch *gate.Latch) {
	defer close(st.done)

	fail := func(err error) {
		st.err = err
		latch.Close(err)
		s.logger.Error("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.startTimeout)
	defer cancel()

	host, err := s.strategy.Launch(ctx)
	if err != nil {
		fail(fmt.Errorf("launch host: %w", err))
		return
	}

	p := rpc.NewProtocol(host.Conn(), s.logger)
	api := s.createAPIFactory(p)

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		_ = api.Dispose()
		_ = p.Close()
		_ = host.Terminate(ctx)
		fail(gate.ErrSuperseded)
		return
	}
	s.host, s.protocol, s.apiFactory = host, p, api
	s.mu.Unlock()

	if err := latch.Advance(gate.ChannelReady); err != nil {
		fail(err)
		return
	}
	s.logger.Debug("channel established")

	data := protocol.ExtHostData{Kind: s.Kind().String(), Extensions: s.Extensions()}
	if err := protocol.NewExtHostExtensionServiceProxy(p).UpdateExtHostData(ctx, data); err != nil {
		fail(fmt.Errorf("synchronize host data: %w", err))
		return
	}
	if err := latch.Advance(gate.DataSynchronized); err != nil {
		fail(err)
		return
	}
	s.logger.Info("host ready with %d extensions", len(data.Extensions))
	st.protocol = p
}

// ActivateExtension activates rec in the host.
func (s *Service) ActivateExtension(ctx context.Context, rec *extension.Record, isWebExtension bool) error {
	entry := s.strategy.Entry(rec)
	if entry == "" {
		return nil
	}

	if err := s.Latch().Await(ctx, gate.DataSynchronized); err != nil {
		return fmt.Errorf("activate %s: %w", rec.ID, err)
	}
	p := s.Proxy()
	if p == nil {
		return fmt.Errorf("activate %s: %w", rec.ID, ErrNotActive)
	}

	status, err := protocol.NewExtHostExtensionServiceProxy(p).ActivateExtension(ctx, protocol.ActivateParams{
		ExtensionID: s.strategy.Identifier(rec),
		Entry:       entry,
		IsWeb:       isWebExtension,
	})
	if err != nil {
		return fmt.Errorf("activate %s: %w", rec.ID, err)
	}
	s.recordStatus(status)
	return nil
}

// UpdateExtensionData replaces the cached catalog. When the channel is
// established the catalog is pushed and listeners are notified.
func (s *Service) UpdateExtensionData(ctx context.Context, recs []*extension.Record) error {
	s.catalogMu.Lock()
	s.extensions = append([]*extension.Record(nil), recs...)
	s.catalogMu.Unlock()

	if s.Latch().State() < gate.ChannelReady {
		return nil
	}
	if err := s.pushExtensions(ctx); err != nil {
		return err
	}
	s.fireDidUpdate(recs)
	return nil
}

func (s *Service) pushExtensions(ctx context.Context) error {
	p := s.Proxy()
	if p == nil {
		return ErrNotActive
	}
	data := protocol.ExtHostData{Kind: s.Kind().String(), Extensions: s.Extensions()}
	if err := protocol.NewExtHostExtensionServiceProxy(p).UpdateExtHostData(ctx, data); err != nil {
		return fmt.Errorf("push host data: %w", err)
	}
	return nil
}

// Extensions returns the cached catalog.
func (s *Service) Extensions() []*extension.Record {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return append([]*extension.Record(nil), s.extensions...)
}

// Status returns the last activation outcome the host reported for id.
func (s *Service) Status(id string) (protocol.ExtensionStatus, bool) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	st, ok := s.statuses[id]
	return st, ok
}

func (s *Service) recordStatus(status protocol.ExtensionStatus) {
	if status.ID == "" {
		return
	}
	s.catalogMu.Lock()
	s.statuses[status.ID] = status
	s.catalogMu.Unlock()
}

// Proxy returns the channel of the current host.
func (s *Service) Proxy() *rpc.Protocol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

// ExtensionService returns the host's extension service, or nil.
func (s *Service) ExtensionService() protocol.ExtHostExtensionService {
	if p := s.Proxy(); p != nil {
		return protocol.NewExtHostExtensionServiceProxy(p)
	}
	return nil
}

// FileSystemEvents returns the host's file participation service, or nil.
func (s *Service) FileSystemEvents() protocol.ExtHostFileSystemEvent {
	if p := s.Proxy(); p != nil {
		return protocol.NewExtHostFileSystemEventProxy(p)
	}
	return nil
}

// DisposeAPIFactory removes the main-side services the host calls into.
func (s *Service) DisposeAPIFactory() {
	s.mu.Lock()
	api := s.apiFactory
	s.apiFactory = nil
	s.mu.Unlock()
	if api != nil {
		if err := api.Dispose(); err != nil {
			s.logger.Warn("dispose api factory: %v", err)
		}
	}
}

// DisposeProcess terminates the host. Waiters on the old latch are
// released with gate.ErrSuperseded; a later Activate starts a new host
// with a new latch.
func (s *Service) DisposeProcess(ctx context.Context) error {
	s.mu.Lock()
	s.generation.Inc()
	old := s.latch
	host, p := s.host, s.protocol
	s.latch = gate.New()
	s.current = nil
	s.host, s.protocol = nil, nil
	s.mu.Unlock()

	old.Close(nil)
	s.DisposeAPIFactory()

	if p != nil {
		_ = p.Close()
	}
	if host == nil {
		return nil
	}
	if err := host.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate host: %w", err)
	}
	return nil
}

// Dispose terminates the host for good.
func (s *Service) Dispose(ctx context.Context) error {
	s.disposed.Store(true)
	return s.DisposeProcess(ctx)
}

// OnDidUpdateExtensions registers fn to be called after the catalog was
// pushed to the host.
func (s *Service) OnDidUpdateExtensions(fn func([]*extension.Record)) lifecycle.Disposable {
	key := &fn
	s.listenersMu.Lock()
	s.listeners[key] = struct{}{}
	s.listenersMu.Unlock()
	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		s.listenersMu.Lock()
		delete(s.listeners, key)
		s.listenersMu.Unlock()
		return nil
	}))
}

func (s *Service) fireDidUpdate(recs []*extension.Record) {
	s.listenersMu.Lock()
	fns := make([]func([]*extension.Record), 0, len(s.listeners))
	for fn := range s.listeners {
		fns = append(fns, *fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(recs)
	}
}

// findExtension resolves a host key against the cached catalog.
func (s *Service) findExtension(key string) (*extension.Record, bool) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	for _, rec := range s.extensions {
		if rec.ID == key || rec.Path == key || s.strategy.Identifier(rec) == key {
			return rec, true
		}
	}
	return nil, false
}
