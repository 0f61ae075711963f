package exthost

import (
	"context"
	"sync"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/rpc"
)

// ViewService stands in for the in-page view host. View entries run in
// the page that embeds them, so there is no channel to establish: the
// service only keeps the catalog and reports updates.
type ViewService struct {
	mu         sync.RWMutex
	extensions []*extension.Record
	listeners  []*func([]*extension.Record)
}

var _ HostService = (*ViewService)(nil)

// NewViewService creates a view host service.
func NewViewService() *ViewService {
	return &ViewService{}
}

// Kind returns extension.HostView.
func (v *ViewService) Kind() extension.HostKind { return extension.HostView }

// Activate has nothing to start and returns a nil channel.
func (v *ViewService) Activate(context.Context) (*rpc.Protocol, error) { return nil, nil }

// ActivateExtension is a no-op.
func (v *ViewService) ActivateExtension(context.Context, *extension.Record, bool) error { return nil }

// UpdateExtensionData replaces the catalog and notifies listeners.
func (v *ViewService) UpdateExtensionData(_ context.Context, recs []*extension.Record) error {
	v.mu.Lock()
	v.extensions = append([]*extension.Record(nil), recs...)
	fns := append(([]*func([]*extension.Record))(nil), v.listeners...)
	v.mu.Unlock()
	for _, fn := range fns {
		(*fn)(recs)
	}
	return nil
}

// Extensions returns the cached catalog.
func (v *ViewService) Extensions() []*extension.Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*extension.Record(nil), v.extensions...)
}

// Proxy returns nil.
func (v *ViewService) Proxy() *rpc.Protocol { return nil }

// DisposeAPIFactory is a no-op.
func (v *ViewService) DisposeAPIFactory() {}

// DisposeProcess is a no-op.
func (v *ViewService) DisposeProcess(context.Context) error { return nil }

// OnDidUpdateExtensions registers fn for catalog updates.
func (v *ViewService) OnDidUpdateExtensions(fn func([]*extension.Record)) lifecycle.Disposable {
	key := &fn
	v.mu.Lock()
	v.listeners = append(v.listeners, key)
	v.mu.Unlock()
	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, l := range v.listeners {
			if l == key {
				v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
				break
			}
		}
		return nil
	}))
}
