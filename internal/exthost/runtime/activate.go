package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/extension/activation"
	"github.com/dshills/exthost/internal/exthost/api"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/exthost/runtime/luaext"
)

// notifyTimeout bounds the activation report sent to the main side.
const notifyTimeout = 2 * time.Second

// ActivateExtension activates the extension known by key, which may be
// its id, its path or its entry path for this host. Concurrent calls for
// one extension share a single activation. An extension that is already
// in the registry, failed or not, is returned as is.
//
// Load and activation failures are captured in the returned record; the
// error is only set when the extension cannot be resolved.
func (r *Runtime) ActivateExtension(ctx context.Context, key, entry string) (*activation.ActivatedExtension, error) {
	rec, err := r.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing := r.registry.Get(rec.ID); existing != nil {
		return existing, nil
	}

	v, _, _ := r.activations.Do(rec.ID, func() (any, error) {
		if existing := r.registry.Get(rec.ID); existing != nil {
			return existing, nil
		}
		activated := r.activate(ctx, rec, entry)
		r.registry.Set(rec.ID, activated)
		r.report(activated)
		return activated, nil
	})
	return v.(*activation.ActivatedExtension), nil
}

// resolve finds the record for key, asking the main side when the local
// catalog does not know it.
func (r *Runtime) resolve(ctx context.Context, key string) (*extension.Record, error) {
	if rec, ok := r.lookup(key); ok {
		return rec, nil
	}
	main := r.mainService()
	if main == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, key)
	}
	rec, err := main.ActivateExtension(ctx, protocol.PathParams{Path: key})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownExtension, key, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, key)
	}

	r.mu.Lock()
	r.catalog[rec.ID] = rec
	r.mu.Unlock()
	return rec, nil
}

func (r *Runtime) activate(ctx context.Context, rec *extension.Record, entry string) *activation.ActivatedExtension {
	log := r.logger.WithField("extension", rec.ID)
	if entry == "" {
		entry = rec.EntryPath(r.kind)
	}

	actx := api.New(rec, r.kind, api.Deps{
		Participants: r.participants,
		Debug:        r.debug,
		MainDebug:    r.mainDebug(),
		Logger:       r.logger,
	})
	times := &activation.Times{}

	started := time.Now()
	mod, err := r.load(ctx, entry, actx)
	times.CodeLoad = time.Since(started)
	if err != nil {
		log.Error("load failed: %v", err)
		return activation.NewFailed(rec.ID, r.kind, err, times)
	}

	var exports any
	if a, ok := mod.(activation.Activator); ok {
		started = time.Now()
		exports, err = callActivate(ctx, a)
		times.ActivateCall = time.Since(started)
		times.ActivateResolved = times.ActivateCall
		if err != nil {
			log.Error("activation failed: %v", err)
			if derr := actx.Subscriptions.Dispose(); derr != nil {
				log.Warn("release subscriptions: %v", derr)
			}
			if c, ok := mod.(io.Closer); ok {
				_ = c.Close()
			}
			return activation.NewFailed(rec.ID, r.kind, err, times)
		}
	}

	log.Info("activated in %s", times.CodeLoad+times.ActivateCall)
	return activation.NewActivated(rec.ID, r.kind, mod, exports, actx.Subscriptions, times)
}

func (r *Runtime) load(ctx context.Context, entry string, actx *api.Context) (activation.Module, error) {
	switch {
	case entry == "":
		return nil, ErrNoEntryPoint
	case extension.IsGoEntry(entry):
		name := strings.TrimPrefix(entry, extension.GoEntryPrefix)
		f, ok := r.modules[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}
		return callFactory(ctx, f, actx)
	default:
		return luaext.Load(ctx, entry, actx, luaext.WithExecutionTimeout(r.scriptTimeout))
	}
}

func callFactory(ctx context.Context, f ModuleFactory, actx *api.Context) (mod activation.Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("load panic: %v", rec)
		}
	}()
	return f(ctx, actx)
}

func callActivate(ctx context.Context, a activation.Activator) (exports any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("activate panic: %v", rec)
		}
	}()
	return a.Activate(ctx)
}

// report tells the main side how an activation ended.
func (r *Runtime) report(rec *activation.ActivatedExtension) {
	main := r.mainService()
	if main == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := main.OnDidActivateExtension(ctx, protocol.StatusOf(rec)); err != nil {
		r.logger.Debug("report activation of %s: %v", rec.ID, err)
	}
}

// extensionService serves protocol.ExtHostExtensionService.
type extensionService struct{ r *Runtime }

var _ protocol.ExtHostExtensionService = (*extensionService)(nil)

func (s *extensionService) UpdateExtHostData(_ context.Context, data protocol.ExtHostData) error {
	s.r.SetCatalog(data.Extensions)
	return nil
}

func (s *extensionService) ActivateExtension(ctx context.Context, params protocol.ActivateParams) (protocol.ExtensionStatus, error) {
	rec, err := s.r.ActivateExtension(ctx, params.ExtensionID, params.Entry)
	if err != nil {
		return protocol.ExtensionStatus{}, err
	}
	return protocol.StatusOf(rec), nil
}

func (s *extensionService) DeactivateAll(ctx context.Context) error {
	s.r.registry.DeactivateAll(ctx)
	return nil
}

func (s *extensionService) GetActivatedExtensions(context.Context) ([]protocol.ExtensionStatus, error) {
	all := s.r.registry.All()
	out := make([]protocol.ExtensionStatus, 0, len(all))
	for _, rec := range all {
		out = append(out, protocol.StatusOf(rec))
	}
	return out, nil
}
