package activation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
)

type fakeModule struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (m *fakeModule) Deactivate(context.Context) error {
	m.calls.Add(1)
	if m.panic {
		panic("boom")
	}
	return m.err
}

func TestRegistry_GetSet(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.Has("a"))
	assert.Nil(t, r.Get("a"))

	rec := NewActivated("a", extension.HostProcess, nil, nil, nil, nil)
	r.Set("a", rec)

	assert.True(t, r.Has("a"))
	assert.Same(t, rec, r.Get("a"))

	other := NewActivated("a", extension.HostProcess, nil, nil, nil, nil)
	r.Set("a", other)
	assert.Same(t, other, r.Get("a"), "set overwrites silently")
	assert.Equal(t, 1, r.Len())

	r.Delete("a")
	assert.False(t, r.Has("a"))
	r.Delete("a")
}

func TestRegistry_All_SortedByID(t *testing.T) {
	r := NewRegistry(nil)
	for _, id := range []string{"c", "a", "b"} {
		r.Set(id, NewActivated(id, extension.HostWorker, nil, nil, nil, nil))
	}
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)

	r.Clear()
	assert.Zero(t, r.Len())
}

func TestRegistry_DeactivateAll_IsolatesFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(logging.NewWithCore(core))

	failing := &fakeModule{err: errors.New("nope")}
	panicking := &fakeModule{panic: true}
	healthy := &fakeModule{}
	extend := &fakeModule{}

	var disposed []string
	subs := lifecycle.NewDisposables()
	subs.Add(lifecycle.DisposeFunc(func() error {
		disposed = append(disposed, "first")
		return errors.New("dispose failed")
	}))
	subs.Add(lifecycle.DisposeFunc(func() error {
		disposed = append(disposed, "second")
		return nil
	}))

	r.Set("e1", NewActivated("e1", extension.HostProcess, failing, nil, nil, nil))
	r.Set("e2", NewActivated("e2", extension.HostProcess, panicking, nil, nil, nil))
	healthyRec := NewActivated("e3", extension.HostProcess, healthy, nil, subs, nil)
	healthyRec.ExtendModule = extend
	r.Set("e3", healthyRec)
	r.Set("e4", NewFailed("e4", extension.HostProcess, errors.New("activate failed"), nil))

	r.DeactivateAll(context.Background())

	assert.EqualValues(t, 1, failing.calls.Load())
	assert.EqualValues(t, 1, panicking.calls.Load())
	assert.EqualValues(t, 1, healthy.calls.Load())
	assert.EqualValues(t, 1, extend.calls.Load())
	assert.Equal(t, []string{"first", "second"}, disposed)

	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 4, r.Len(), "records stay until cleared")
}

// rendezvousModule blocks in Deactivate until its peer has started too.
type rendezvousModule struct {
	started chan struct{}
	peer    chan struct{}
	met     atomic.Bool
}

func (m *rendezvousModule) Deactivate(context.Context) error {
	close(m.started)
	select {
	case <-m.peer:
		m.met.Store(true)
	case <-time.After(time.Second):
	}
	return nil
}

func TestRegistry_DeactivateAll_RunsInParallel(t *testing.T) {
	a := &rendezvousModule{started: make(chan struct{})}
	b := &rendezvousModule{started: make(chan struct{})}
	a.peer, b.peer = b.started, a.started

	r := NewRegistry(nil)
	r.Set("a", NewActivated("a", extension.HostProcess, a, nil, nil, nil))
	r.Set("b", NewActivated("b", extension.HostProcess, b, nil, nil, nil))

	r.DeactivateAll(context.Background())
	assert.True(t, a.met.Load(), "a never saw b start")
	assert.True(t, b.met.Load(), "b never saw a start")
}

func TestRegistry_DeactivateAll_Once(t *testing.T) {
	r := NewRegistry(nil)
	m := &fakeModule{}
	r.Set("a", NewActivated("a", extension.HostWorker, m, nil, nil, nil))

	r.DeactivateAll(context.Background())
	r.DeactivateAll(context.Background())
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestActivatedExtension_Status(t *testing.T) {
	var nilRec *ActivatedExtension
	assert.Equal(t, StatusInactive, nilRec.Status())
	assert.Equal(t, StatusActive, NewActivated("a", extension.HostView, nil, nil, nil, nil).Status())
	failed := NewFailed("a", extension.HostView, errors.New("x"), nil)
	assert.Equal(t, StatusFailed, failed.Status())
	assert.Equal(t, "failed", failed.Status().String())
	assert.False(t, failed.Status().IsUsable())
}
