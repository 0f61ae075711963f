// Package api is the surface an extension module sees when it is activated
// inside a host.
package api

import (
	"context"
	"time"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
	"github.com/dshills/exthost/internal/participant"
)

// announceTimeout bounds the notifications sent to the main process when a
// debug type is registered or removed.
const announceTimeout = 5 * time.Second

// Deps are the host services an extension context is built from.
type Deps struct {
	Participants *participant.Coordinator
	Debug        *debug.Registry
	// MainDebug announces debug types to the main process. May be nil.
	MainDebug protocol.MainThreadDebug
	Logger    *logging.Logger
}

// Context is handed to an extension module on activation. Everything
// registered through it is owned by Subscriptions and released when the
// extension is deactivated.
type Context struct {
	Extension     *extension.Record
	Kind          extension.HostKind
	Subscriptions *lifecycle.Disposables
	Workspace     *Workspace
	Debug         *Debug
	Logger        *logging.Logger
}

// New builds the context of one extension.
func New(rec *extension.Record, kind extension.HostKind, deps Deps) *Context {
	subs := lifecycle.NewDisposables()
	logger := logging.OrNop(deps.Logger).WithField("extension", rec.ID)
	return &Context{
		Extension:     rec,
		Kind:          kind,
		Subscriptions: subs,
		Workspace:     &Workspace{ext: rec, participants: deps.Participants, subs: subs},
		Debug:         &Debug{ext: rec, registry: deps.Debug, main: deps.MainDebug, subs: subs, logger: logger},
		Logger:        logger,
	}
}

// Workspace registers file operation participants.
type Workspace struct {
	ext          *extension.Record
	participants *participant.Coordinator
	subs         *lifecycle.Disposables
}

// OnWillCreateFiles registers fn to participate in file creation.
func (w *Workspace) OnWillCreateFiles(fn participant.Listener) lifecycle.Disposable {
	return w.onWill(participant.OperationCreate, fn)
}

// OnWillDeleteFiles registers fn to participate in file deletion.
func (w *Workspace) OnWillDeleteFiles(fn participant.Listener) lifecycle.Disposable {
	return w.onWill(participant.OperationDelete, fn)
}

// OnWillRenameFiles registers fn to participate in renames.
func (w *Workspace) OnWillRenameFiles(fn participant.Listener) lifecycle.Disposable {
	return w.onWill(participant.OperationRename, fn)
}

// OnDidCreateFiles registers fn to run after files were created.
func (w *Workspace) OnDidCreateFiles(fn func(files []participant.FilePair)) lifecycle.Disposable {
	return w.onDid(participant.OperationCreate, fn)
}

// OnDidDeleteFiles registers fn to run after files were deleted.
func (w *Workspace) OnDidDeleteFiles(fn func(files []participant.FilePair)) lifecycle.Disposable {
	return w.onDid(participant.OperationDelete, fn)
}

// OnDidRenameFiles registers fn to run after files were renamed.
func (w *Workspace) OnDidRenameFiles(fn func(files []participant.FilePair)) lifecycle.Disposable {
	return w.onDid(participant.OperationRename, fn)
}

func (w *Workspace) onWill(op participant.Operation, fn participant.Listener) lifecycle.Disposable {
	if w.participants == nil {
		return lifecycle.None
	}
	d := w.participants.Register(participant.Registration{
		ExtensionID: w.ext.ID,
		DisplayName: w.ext.Label(),
		Operation:   op,
		Listener:    fn,
	})
	w.subs.Add(d)
	return d
}

func (w *Workspace) onDid(op participant.Operation, fn func(files []participant.FilePair)) lifecycle.Disposable {
	if w.participants == nil || fn == nil {
		return lifecycle.None
	}
	d := w.participants.RegisterDid(participant.DidRegistration{
		ExtensionID: w.ext.ID,
		Operation:   op,
		Listener:    func(_ participant.Operation, files []participant.FilePair) { fn(files) },
	})
	w.subs.Add(d)
	return d
}

// Debug registers debug contributors.
type Debug struct {
	ext      *extension.Record
	registry *debug.Registry
	main     protocol.MainThreadDebug
	subs     *lifecycle.Disposables
	logger   *logging.Logger
}

// RegisterDebugContributor registers c in the host and announces its type
// to the main process. A type that is already registered is ignored.
func (d *Debug) RegisterDebugContributor(c debug.Contributor) lifecycle.Disposable {
	if d.registry == nil || c == nil {
		return lifecycle.None
	}
	local, ok := d.registry.TryRegisterContribution(c.Type(), c)
	if !ok {
		return lifecycle.None
	}

	if d.main != nil {
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		err := d.main.RegisterDebugContribution(ctx, protocol.DebugContribution{Type: c.Type(), Label: c.Label()})
		cancel()
		if err != nil {
			d.logger.Warn("announce debug type %s: %v", c.Type(), err)
		}
	}

	typ := c.Type()
	disposable := lifecycle.Once(lifecycle.DisposeFunc(func() error {
		err := local.Dispose()
		if d.main != nil {
			ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
			defer cancel()
			if uerr := d.main.UnregisterDebugContribution(ctx, protocol.DebugTypeParams{Type: typ}); uerr != nil {
				d.logger.Debug("withdraw debug type %s: %v", typ, uerr)
			}
		}
		return err
	}))
	d.subs.Add(disposable)
	return disposable
}
