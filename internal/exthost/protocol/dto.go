// Package protocol defines the typed contracts spoken between the main
// process and an extension host.
//
// Every remote service has an identifier, a Go interface listing its
// methods, a proxy implementing that interface over rpc.Proxy, and a
// Methods function that builds the dispatch table for a local
// implementation. The "$" wire prefix is added by the rpc package only.
package protocol

import (
	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/extension/activation"
	"github.com/dshills/exthost/internal/participant"
	"github.com/dshills/exthost/internal/rpc"
)

// Services implemented by the extension host.
const (
	ExtHostExtensionServiceID rpc.Identifier = "ExtHostExtensionService"
	ExtHostFileSystemEventID  rpc.Identifier = "ExtHostFileSystemEventService"
	ExtHostDebugID            rpc.Identifier = "ExtHostDebugService"
)

// Services implemented by the main process.
const (
	MainThreadExtensionServiceID rpc.Identifier = "MainThreadExtensionService"
	MainThreadDebugID            rpc.Identifier = "MainThreadDebugService"
)

// ExtHostData is the extension catalog pushed to a host.
type ExtHostData struct {
	Kind       string              `json:"kind"`
	Extensions []*extension.Record `json:"extensions"`
}

// ActivateParams asks a host to activate one extension.
type ActivateParams struct {
	ExtensionID string `json:"extensionId"`
	// Entry is the host-kind specific entry point: a script path or a
	// "go:" module name.
	Entry string `json:"entry"`
	IsWeb bool   `json:"isWeb,omitempty"`
}

// ExtensionStatus reports the activation outcome of one extension.
type ExtensionStatus struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Status string            `json:"status"`
	Failed bool              `json:"failed,omitempty"`
	Error  string            `json:"error,omitempty"`
	Times  *activation.Times `json:"times,omitempty"`
}

// StatusOf converts an activated record to its wire form.
func StatusOf(rec *activation.ActivatedExtension) ExtensionStatus {
	s := ExtensionStatus{
		ID:     rec.ID,
		Kind:   rec.Kind.String(),
		Status: rec.Status().String(),
		Failed: rec.ActivationFailed,
		Times:  rec.Times,
	}
	if rec.ActivationFailedError != nil {
		s.Error = rec.ActivationFailedError.Error()
	}
	return s
}

// PathParams carries an extension location.
type PathParams struct {
	Path string `json:"path"`
}

// FileOperationParams describes a pending file operation.
type FileOperationParams struct {
	// RequestID correlates cancellation with the pending call.
	RequestID string                 `json:"requestId"`
	Operation participant.Operation  `json:"operation"`
	Files     []participant.FilePair `json:"files"`
	TimeoutMs int64                  `json:"timeoutMs"`
}

// CancelParams cancels a pending file operation.
type CancelParams struct {
	RequestID string `json:"requestId"`
}

// DidFileOperationParams describes a completed file operation.
type DidFileOperationParams struct {
	Operation participant.Operation  `json:"operation"`
	Files     []participant.FilePair `json:"files"`
}

// DebugTypeParams names a debug type.
type DebugTypeParams struct {
	Type string `json:"type"`
}

// DebugContribution announces a debug type registered in a host.
type DebugContribution struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// ProvideConfigurationsParams asks for initial configurations.
type ProvideConfigurationsParams struct {
	Type    string            `json:"type"`
	Folder  string            `json:"folder"`
	Trigger debug.TriggerKind `json:"trigger"`
}

// ResolveConfigurationParams asks to resolve a configuration.
type ResolveConfigurationParams struct {
	Folder        string              `json:"folder"`
	Configuration debug.Configuration `json:"configuration"`
}

// SessionParams names a debug session.
type SessionParams struct {
	SessionID string `json:"sessionId"`
}
