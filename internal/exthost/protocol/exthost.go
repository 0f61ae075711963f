package protocol

import (
	"context"
	"encoding/json"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/participant"
	"github.com/dshills/exthost/internal/rpc"
)

// ExtHostExtensionService is the host-side extension lifecycle service.
type ExtHostExtensionService interface {
	UpdateExtHostData(ctx context.Context, data ExtHostData) error
	ActivateExtension(ctx context.Context, params ActivateParams) (ExtensionStatus, error)
	DeactivateAll(ctx context.Context) error
	GetActivatedExtensions(ctx context.Context) ([]ExtensionStatus, error)
}

// ExtHostExtensionServiceProxy calls ExtHostExtensionService remotely.
type ExtHostExtensionServiceProxy struct{ p *rpc.Proxy }

// NewExtHostExtensionServiceProxy returns the proxy on protocol.
func NewExtHostExtensionServiceProxy(protocol *rpc.Protocol) *ExtHostExtensionServiceProxy {
	return &ExtHostExtensionServiceProxy{p: protocol.GetProxy(ExtHostExtensionServiceID)}
}

func (x *ExtHostExtensionServiceProxy) UpdateExtHostData(ctx context.Context, data ExtHostData) error {
	return x.p.Call(ctx, "updateExtHostData", data, nil)
}

func (x *ExtHostExtensionServiceProxy) ActivateExtension(ctx context.Context, params ActivateParams) (ExtensionStatus, error) {
	var out ExtensionStatus
	err := x.p.Call(ctx, "activateExtension", params, &out)
	return out, err
}

func (x *ExtHostExtensionServiceProxy) DeactivateAll(ctx context.Context) error {
	return x.p.Call(ctx, "deactivateAll", nil, nil)
}

func (x *ExtHostExtensionServiceProxy) GetActivatedExtensions(ctx context.Context) ([]ExtensionStatus, error) {
	var out []ExtensionStatus
	err := x.p.Call(ctx, "getActivatedExtensions", nil, &out)
	return out, err
}

// ExtHostExtensionServiceMethods builds the dispatch table for impl.
func ExtHostExtensionServiceMethods(impl ExtHostExtensionService) rpc.Methods {
	return rpc.Methods{
		"updateExtHostData": rpc.Handle(func(ctx context.Context, data ExtHostData) (rpc.Empty, error) {
			return rpc.Empty{}, impl.UpdateExtHostData(ctx, data)
		}),
		"activateExtension": rpc.Handle(impl.ActivateExtension),
		"deactivateAll": rpc.Handle(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
			return rpc.Empty{}, impl.DeactivateAll(ctx)
		}),
		"getActivatedExtensions": rpc.Handle(func(ctx context.Context, _ rpc.Empty) ([]ExtensionStatus, error) {
			return impl.GetActivatedExtensions(ctx)
		}),
	}
}

// ExtHostFileSystemEvent is the host-side file participation service.
type ExtHostFileSystemEvent interface {
	// OnWillRunFileOperation returns nil when no extension participated.
	OnWillRunFileOperation(ctx context.Context, params FileOperationParams) (*participant.Result, error)
	CancelFileOperation(ctx context.Context, params CancelParams) error
	OnDidRunFileOperation(ctx context.Context, params DidFileOperationParams) error
}

// ExtHostFileSystemEventProxy calls ExtHostFileSystemEvent remotely.
type ExtHostFileSystemEventProxy struct{ p *rpc.Proxy }

// NewExtHostFileSystemEventProxy returns the proxy on protocol.
func NewExtHostFileSystemEventProxy(protocol *rpc.Protocol) *ExtHostFileSystemEventProxy {
	return &ExtHostFileSystemEventProxy{p: protocol.GetProxy(ExtHostFileSystemEventID)}
}

func (x *ExtHostFileSystemEventProxy) OnWillRunFileOperation(ctx context.Context, params FileOperationParams) (*participant.Result, error) {
	var out *participant.Result
	if err := x.p.Call(ctx, "onWillRunFileOperation", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *ExtHostFileSystemEventProxy) CancelFileOperation(ctx context.Context, params CancelParams) error {
	return x.p.Notify(ctx, "cancelFileOperation", params)
}

func (x *ExtHostFileSystemEventProxy) OnDidRunFileOperation(ctx context.Context, params DidFileOperationParams) error {
	return x.p.Notify(ctx, "onDidRunFileOperation", params)
}

// ExtHostFileSystemEventMethods builds the dispatch table for impl.
func ExtHostFileSystemEventMethods(impl ExtHostFileSystemEvent) rpc.Methods {
	return rpc.Methods{
		"onWillRunFileOperation": rpc.Handle(impl.OnWillRunFileOperation),
		"cancelFileOperation": rpc.Handle(func(ctx context.Context, p CancelParams) (rpc.Empty, error) {
			return rpc.Empty{}, impl.CancelFileOperation(ctx, p)
		}),
		"onDidRunFileOperation": rpc.Handle(func(ctx context.Context, p DidFileOperationParams) (rpc.Empty, error) {
			return rpc.Empty{}, impl.OnDidRunFileOperation(ctx, p)
		}),
	}
}

// ExtHostDebug is the host-side half of contributed debug types.
type ExtHostDebug interface {
	GetLanguages(ctx context.Context, params DebugTypeParams) ([]string, error)
	GetSchemaAttributes(ctx context.Context, params DebugTypeParams) ([]json.RawMessage, error)
	GetConfigurationSnippets(ctx context.Context, params DebugTypeParams) ([]json.RawMessage, error)
	ProvideDebugConfigurations(ctx context.Context, params ProvideConfigurationsParams) ([]debug.Configuration, error)
	ResolveDebugConfiguration(ctx context.Context, params ResolveConfigurationParams) (debug.Configuration, error)
	ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, params ResolveConfigurationParams) (debug.Configuration, error)
	CreateDebugSession(ctx context.Context, dto debug.SessionDTO) (string, error)
	TerminateDebugSession(ctx context.Context, params SessionParams) error
}

// ExtHostDebugProxy calls ExtHostDebug remotely.
type ExtHostDebugProxy struct{ p *rpc.Proxy }

// NewExtHostDebugProxy returns the proxy on protocol.
func NewExtHostDebugProxy(protocol *rpc.Protocol) *ExtHostDebugProxy {
	return &ExtHostDebugProxy{p: protocol.GetProxy(ExtHostDebugID)}
}

func (x *ExtHostDebugProxy) GetLanguages(ctx context.Context, params DebugTypeParams) ([]string, error) {
	var out []string
	err := x.p.Call(ctx, "getLanguages", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) GetSchemaAttributes(ctx context.Context, params DebugTypeParams) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := x.p.Call(ctx, "getSchemaAttributes", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) GetConfigurationSnippets(ctx context.Context, params DebugTypeParams) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := x.p.Call(ctx, "getConfigurationSnippets", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) ProvideDebugConfigurations(ctx context.Context, params ProvideConfigurationsParams) ([]debug.Configuration, error) {
	var out []debug.Configuration
	err := x.p.Call(ctx, "provideDebugConfigurations", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) ResolveDebugConfiguration(ctx context.Context, params ResolveConfigurationParams) (debug.Configuration, error) {
	var out debug.Configuration
	err := x.p.Call(ctx, "resolveDebugConfiguration", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, params ResolveConfigurationParams) (debug.Configuration, error) {
	var out debug.Configuration
	err := x.p.Call(ctx, "resolveDebugConfigurationWithSubstitutedVariables", params, &out)
	return out, err
}

func (x *ExtHostDebugProxy) CreateDebugSession(ctx context.Context, dto debug.SessionDTO) (string, error) {
	var out string
	err := x.p.Call(ctx, "createDebugSession", dto, &out)
	return out, err
}

func (x *ExtHostDebugProxy) TerminateDebugSession(ctx context.Context, params SessionParams) error {
	return x.p.Call(ctx, "terminateDebugSession", params, nil)
}

// ExtHostDebugMethods builds the dispatch table for impl.
func ExtHostDebugMethods(impl ExtHostDebug) rpc.Methods {
	return rpc.Methods{
		"getLanguages":               rpc.Handle(impl.GetLanguages),
		"getSchemaAttributes":        rpc.Handle(impl.GetSchemaAttributes),
		"getConfigurationSnippets":   rpc.Handle(impl.GetConfigurationSnippets),
		"provideDebugConfigurations": rpc.Handle(impl.ProvideDebugConfigurations),
		"resolveDebugConfiguration":  rpc.Handle(impl.ResolveDebugConfiguration),
		"resolveDebugConfigurationWithSubstitutedVariables": rpc.Handle(impl.ResolveDebugConfigurationWithSubstitutedVariables),
		"createDebugSession": rpc.Handle(impl.CreateDebugSession),
		"terminateDebugSession": rpc.Handle(func(ctx context.Context, p SessionParams) (rpc.Empty, error) {
			return rpc.Empty{}, impl.TerminateDebugSession(ctx, p)
		}),
	}
}
