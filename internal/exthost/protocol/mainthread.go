package protocol

import (
	"context"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/rpc"
)

// MainThreadExtensionService serves the reverse calls a host makes while
// activating extensions. Answers come from the main side's cached catalog.
type MainThreadExtensionService interface {
	// ActivateExtension resolves an extension location to its record.
	ActivateExtension(ctx context.Context, params PathParams) (*extension.Record, error)
	GetExtensions(ctx context.Context) ([]*extension.Record, error)
	GetStaticServicePath(ctx context.Context) (string, error)
	// UpdateExtHostData asks the main side to push the catalog again.
	UpdateExtHostData(ctx context.Context) error
	// OnDidActivateExtension reports an activation outcome.
	OnDidActivateExtension(ctx context.Context, status ExtensionStatus) error
}

// MainThreadExtensionServiceProxy calls MainThreadExtensionService remotely.
type MainThreadExtensionServiceProxy struct{ p *rpc.Proxy }

// NewMainThreadExtensionServiceProxy returns the proxy on protocol.
func NewMainThreadExtensionServiceProxy(protocol *rpc.Protocol) *MainThreadExtensionServiceProxy {
	return &MainThreadExtensionServiceProxy{p: protocol.GetProxy(MainThreadExtensionServiceID)}
}

func (x *MainThreadExtensionServiceProxy) ActivateExtension(ctx context.Context, params PathParams) (*extension.Record, error) {
	var out *extension.Record
	err := x.p.Call(ctx, "activateExtension", params, &out)
	return out, err
}

func (x *MainThreadExtensionServiceProxy) GetExtensions(ctx context.Context) ([]*extension.Record, error) {
	var out []*extension.Record
	err := x.p.Call(ctx, "getExtensions", nil, &out)
	return out, err
}

func (x *MainThreadExtensionServiceProxy) GetStaticServicePath(ctx context.Context) (string, error) {
	var out string
	err := x.p.Call(ctx, "getStaticServicePath", nil, &out)
	return out, err
}

func (x *MainThreadExtensionServiceProxy) UpdateExtHostData(ctx context.Context) error {
	return x.p.Call(ctx, "updateExtHostData", nil, nil)
}

func (x *MainThreadExtensionServiceProxy) OnDidActivateExtension(ctx context.Context, status ExtensionStatus) error {
	return x.p.Notify(ctx, "onDidActivateExtension", status)
}

// MainThreadExtensionServiceMethods builds the dispatch table for impl.
func MainThreadExtensionServiceMethods(impl MainThreadExtensionService) rpc.Methods {
	return rpc.Methods{
		"activateExtension": rpc.Handle(impl.ActivateExtension),
		"getExtensions": rpc.Handle(func(ctx context.Context, _ rpc.Empty) ([]*extension.Record, error) {
			return impl.GetExtensions(ctx)
		}),
		"getStaticServicePath": rpc.Handle(func(ctx context.Context, _ rpc.Empty) (string, error) {
			return impl.GetStaticServicePath(ctx)
		}),
		"updateExtHostData": rpc.Handle(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
			return rpc.Empty{}, impl.UpdateExtHostData(ctx)
		}),
		"onDidActivateExtension": rpc.Handle(func(ctx context.Context, s ExtensionStatus) (rpc.Empty, error) {
			return rpc.Empty{}, impl.OnDidActivateExtension(ctx, s)
		}),
	}
}

// MainThreadDebug receives debug types registered by host extensions.
type MainThreadDebug interface {
	RegisterDebugContribution(ctx context.Context, c DebugContribution) error
	UnregisterDebugContribution(ctx context.Context, params DebugTypeParams) error
}

// MainThreadDebugProxy calls MainThreadDebug remotely.
type MainThreadDebugProxy struct{ p *rpc.Proxy }

// NewMainThreadDebugProxy returns the proxy on protocol.
func NewMainThreadDebugProxy(protocol *rpc.Protocol) *MainThreadDebugProxy {
	return &MainThreadDebugProxy{p: protocol.GetProxy(MainThreadDebugID)}
}

func (x *MainThreadDebugProxy) RegisterDebugContribution(ctx context.Context, c DebugContribution) error {
	return x.p.Call(ctx, "registerDebugContribution", c, nil)
}

func (x *MainThreadDebugProxy) UnregisterDebugContribution(ctx context.Context, params DebugTypeParams) error {
	return x.p.Call(ctx, "unregisterDebugContribution", params, nil)
}

// MainThreadDebugMethods builds the dispatch table for impl.
func MainThreadDebugMethods(impl MainThreadDebug) rpc.Methods {
	return rpc.Methods{
		"registerDebugContribution": rpc.Handle(func(ctx context.Context, c DebugContribution) (rpc.Empty, error) {
			return rpc.Empty{}, impl.RegisterDebugContribution(ctx, c)
		}),
		"unregisterDebugContribution": rpc.Handle(func(ctx context.Context, p DebugTypeParams) (rpc.Empty, error) {
			return rpc.Empty{}, impl.UnregisterDebugContribution(ctx, p)
		}),
	}
}
