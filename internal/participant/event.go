package participant

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/logging"
)

// Thenable is deferred work a listener hands to WaitUntil. Its result is
// used when it is a workspace edit and discarded otherwise.
type Thenable func(ctx context.Context) (any, error)

// Event is passed to will-listeners. Operation and files must not be
// modified by listeners.
type Event struct {
	Operation Operation
	Files     []FilePair

	ctx       context.Context
	collector *collector
	listener  *Registration

	mu     sync.Mutex
	sealed bool
}

// Context returns the context of the triggering operation.
func (e *Event) Context() context.Context {
	return e.ctx
}

// WaitUntil registers t. All registered thenables are awaited before the
// operation proceeds. It may be called several times, but only while the
// listener is running.
func (e *Event) WaitUntil(t Thenable) {
	if t == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		e.collector.logger.Warn("extension %s called waitUntil after its listener returned; ignored", e.listener.label())
		return
	}
	e.collector.start(e.ctx, e.listener, t)
}

// WaitUntilEdit contributes w directly.
func (e *Event) WaitUntilEdit(w *edit.WorkspaceEdit) {
	e.WaitUntil(func(context.Context) (any, error) { return w, nil })
}

func (e *Event) seal() {
	e.mu.Lock()
	e.sealed = true
	e.mu.Unlock()
}

// outcome is the settled value of one thenable.
type outcome struct {
	listener *Registration
	value    any
	err      error
	elapsed  time.Duration
}

// collector runs thenables and keeps their outcomes in invocation order.
type collector struct {
	logger *logging.Logger

	mu       sync.Mutex
	outcomes []*outcome
	wg       sync.WaitGroup
}

func (c *collector) start(ctx context.Context, reg *Registration, t Thenable) {
	slot := &outcome{listener: reg}
	c.mu.Lock()
	c.outcomes = append(c.outcomes, slot)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		started := time.Now()
		slot.value, slot.err = runThenable(ctx, t)
		slot.elapsed = time.Since(started)
	}()
}

// wait blocks until every started thenable has settled.
func (c *collector) wait() []*outcome {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes
}

func runThenable(ctx context.Context, t Thenable) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return t(ctx)
}
