package exthost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
	"github.com/dshills/exthost/internal/rpc"
)

// createAPIFactory registers the main-side services a host calls into.
func (s *Service) createAPIFactory(p *rpc.Protocol) *lifecycle.Disposables {
	ds := lifecycle.NewDisposables()
	ds.Add(p.Set(protocol.MainThreadExtensionServiceID, protocol.MainThreadExtensionServiceMethods(&mainThreadExtensions{s})))
	if s.debug != nil {
		bridge := newDebugBridge(s.debug, protocol.NewExtHostDebugProxy(p), s.logger)
		ds.Add(p.Set(protocol.MainThreadDebugID, protocol.MainThreadDebugMethods(bridge)))
		ds.Add(bridge)
	}
	return ds
}

// mainThreadExtensions answers the host's reverse calls from the cached
// catalog.
type mainThreadExtensions struct{ s *Service }

var _ protocol.MainThreadExtensionService = (*mainThreadExtensions)(nil)

func (m *mainThreadExtensions) ActivateExtension(_ context.Context, params protocol.PathParams) (*extension.Record, error) {
	rec, ok := m.s.findExtension(params.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, params.Path)
	}
	return rec, nil
}

func (m *mainThreadExtensions) GetExtensions(context.Context) ([]*extension.Record, error) {
	return m.s.Extensions(), nil
}

func (m *mainThreadExtensions) GetStaticServicePath(context.Context) (string, error) {
	return m.s.strategy.StaticServicePath(), nil
}

func (m *mainThreadExtensions) UpdateExtHostData(ctx context.Context) error {
	return m.s.pushExtensions(ctx)
}

func (m *mainThreadExtensions) OnDidActivateExtension(_ context.Context, status protocol.ExtensionStatus) error {
	m.s.recordStatus(status)
	if status.Failed {
		m.s.logger.Warn("extension %s failed to activate: %s", status.ID, status.Error)
	}
	return nil
}

// debugBridge registers debug types announced by a host in the main
// registry, forwarding their calls back to the host.
type debugBridge struct {
	registry *debug.Registry
	host     protocol.ExtHostDebug
	logger   *logging.Logger

	mu    sync.Mutex
	types map[string]lifecycle.Disposable
}

var _ protocol.MainThreadDebug = (*debugBridge)(nil)

func newDebugBridge(registry *debug.Registry, host protocol.ExtHostDebug, logger *logging.Logger) *debugBridge {
	return &debugBridge{
		registry: registry,
		host:     host,
		logger:   logger,
		types:    make(map[string]lifecycle.Disposable),
	}
}

func (b *debugBridge) RegisterDebugContribution(_ context.Context, c protocol.DebugContribution) error {
	contributor := &RemoteDebugContributor{DebugType: c.Type, DebugLabel: c.Label, Host: b.host}
	d, ok := b.registry.TryRegisterContribution(c.Type, contributor)
	if !ok {
		return nil
	}
	b.mu.Lock()
	b.types[c.Type] = d
	b.mu.Unlock()
	return nil
}

func (b *debugBridge) UnregisterDebugContribution(_ context.Context, params protocol.DebugTypeParams) error {
	b.mu.Lock()
	d, ok := b.types[params.Type]
	delete(b.types, params.Type)
	b.mu.Unlock()
	if ok {
		return d.Dispose()
	}
	return nil
}

// Dispose withdraws every type the host registered.
func (b *debugBridge) Dispose() error {
	b.mu.Lock()
	types := b.types
	b.types = make(map[string]lifecycle.Disposable)
	b.mu.Unlock()

	ds := lifecycle.NewDisposables()
	for _, d := range types {
		ds.Add(d)
	}
	return ds.Dispose()
}

// RemoteDebugContributor is the main-side stand-in for a debug type
// implemented in a host.
type RemoteDebugContributor struct {
	DebugType  string
	DebugLabel string
	Host       protocol.ExtHostDebug
}

var _ debug.Contributor = (*RemoteDebugContributor)(nil)

func (r *RemoteDebugContributor) Type() string { return r.DebugType }

func (r *RemoteDebugContributor) Label() string {
	if r.DebugLabel != "" {
		return r.DebugLabel
	}
	return r.DebugType
}

func (r *RemoteDebugContributor) Languages(ctx context.Context) ([]string, error) {
	return r.Host.GetLanguages(ctx, protocol.DebugTypeParams{Type: r.DebugType})
}

func (r *RemoteDebugContributor) SchemaAttributes(ctx context.Context) ([]json.RawMessage, error) {
	return r.Host.GetSchemaAttributes(ctx, protocol.DebugTypeParams{Type: r.DebugType})
}

func (r *RemoteDebugContributor) ConfigurationSnippets(ctx context.Context) ([]json.RawMessage, error) {
	return r.Host.GetConfigurationSnippets(ctx, protocol.DebugTypeParams{Type: r.DebugType})
}

func (r *RemoteDebugContributor) ProvideDebugConfigurations(ctx context.Context, folder string, trigger debug.TriggerKind) ([]debug.Configuration, error) {
	return r.Host.ProvideDebugConfigurations(ctx, protocol.ProvideConfigurationsParams{
		Type: r.DebugType, Folder: folder, Trigger: trigger,
	})
}

func (r *RemoteDebugContributor) ResolveDebugConfiguration(ctx context.Context, folder string, cfg debug.Configuration) (debug.Configuration, error) {
	return r.Host.ResolveDebugConfiguration(ctx, protocol.ResolveConfigurationParams{Folder: folder, Configuration: cfg})
}

func (r *RemoteDebugContributor) ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, folder string, cfg debug.Configuration) (debug.Configuration, error) {
	return r.Host.ResolveDebugConfigurationWithSubstitutedVariables(ctx, protocol.ResolveConfigurationParams{Folder: folder, Configuration: cfg})
}

func (r *RemoteDebugContributor) CreateDebugSession(ctx context.Context, dto debug.SessionDTO) (string, error) {
	return r.Host.CreateDebugSession(ctx, dto)
}

func (r *RemoteDebugContributor) TerminateDebugSession(ctx context.Context, id string) error {
	return r.Host.TerminateDebugSession(ctx, protocol.SessionParams{SessionID: id})
}
