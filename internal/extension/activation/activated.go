package activation

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/lifecycle"
)

// Module is a loaded extension module. Modules may implement Activator
// and Deactivator; both are optional.
type Module any

// Activator is implemented by modules that need an activation call.
// The returned value becomes the extension's exported API.
type Activator interface {
	Activate(ctx context.Context) (any, error)
}

// Deactivator is implemented by modules that release state on shutdown.
type Deactivator interface {
	Deactivate(ctx context.Context) error
}

// Times records how long each activation phase took.
type Times struct {
	CodeLoad         time.Duration `json:"codeLoad"`
	ActivateCall     time.Duration `json:"activateCall"`
	ActivateResolved time.Duration `json:"activateResolved"`
}

// ActivatedExtension is the result of activating one extension.
type ActivatedExtension struct {
	ID   string
	Kind extension.HostKind

	// ActivationFailed is set when loading or activating the module failed.
	// The record is still registered so the failure can be reported.
	ActivationFailed      bool
	ActivationFailedError error

	Module       Module
	ExtendModule Module
	Exports      any

	// Subscriptions holds the disposables the extension registered.
	Subscriptions *lifecycle.Disposables

	Times *Times

	deactivateOnce sync.Once
}

// NewActivated creates a record for a successfully activated extension.
func NewActivated(id string, kind extension.HostKind, module Module, exports any, subs *lifecycle.Disposables, times *Times) *ActivatedExtension {
	if subs == nil {
		subs = lifecycle.NewDisposables()
	}
	return &ActivatedExtension{
		ID:            id,
		Kind:          kind,
		Module:        module,
		Exports:       exports,
		Subscriptions: subs,
		Times:         times,
	}
}

// NewFailed creates a record for an extension whose activation failed.
func NewFailed(id string, kind extension.HostKind, err error, times *Times) *ActivatedExtension {
	return &ActivatedExtension{
		ID:                    id,
		Kind:                  kind,
		ActivationFailed:      true,
		ActivationFailedError: err,
		Subscriptions:         lifecycle.NewDisposables(),
		Times:                 times,
	}
}

// Status returns the reported status of the record.
func (a *ActivatedExtension) Status() Status {
	if a == nil {
		return StatusInactive
	}
	if a.ActivationFailed {
		return StatusFailed
	}
	return StatusActive
}
