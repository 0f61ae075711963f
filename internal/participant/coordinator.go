// Package participant lets extensions take part in file operations before
// and after they run.
//
// Before an operation commits, every will-listener registered for it
// receives an Event and may hand deferred work to Event.WaitUntil. The
// coordinator awaits all of that work, keeps results that are workspace
// edits and merges them per resource in invocation order. After the
// operation, did-listeners are notified.
package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
)

// Listener observes a pending operation.
type Listener func(e *Event)

// DidListener observes a completed operation.
type DidListener func(op Operation, files []FilePair)

// Registration is a will-listener record.
type Registration struct {
	// ID identifies the listener. Registering an ID twice is ignored.
	// An empty ID is replaced with a generated one.
	ID          string
	ExtensionID string
	DisplayName string
	Operation   Operation
	Listener    Listener
}

func (r *Registration) label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ExtensionID
}

// DidRegistration is a did-listener record.
type DidRegistration struct {
	ID          string
	ExtensionID string
	Operation   Operation
	Listener    DidListener
}

// PanicError wraps a value recovered from a listener or thenable.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("participant panic: %v", e.Value)
}

// Coordinator holds the ordered listener lists.
type Coordinator struct {
	mu     sync.RWMutex
	will   []*Registration
	did    []*DidRegistration
	logger *logging.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *logging.Logger) *Coordinator {
	return &Coordinator{logger: logging.OrNop(logger).WithComponent("participant")}
}

// Register adds a will-listener. Listeners run in registration order.
func (c *Coordinator) Register(reg Registration) lifecycle.Disposable {
	if reg.Listener == nil {
		return lifecycle.None
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.will {
		if r.ID == reg.ID {
			c.logger.Warn("participant %s already registered by %s", reg.ID, r.ExtensionID)
			return lifecycle.None
		}
	}
	rec := &reg
	c.will = append(c.will, rec)

	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.will {
			if r == rec {
				c.will = append(c.will[:i:i], c.will[i+1:]...)
				break
			}
		}
		return nil
	}))
}

// RegisterDid adds a did-listener.
func (c *Coordinator) RegisterDid(reg DidRegistration) lifecycle.Disposable {
	if reg.Listener == nil {
		return lifecycle.None
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.did {
		if r.ID == reg.ID {
			c.logger.Warn("did-listener %s already registered by %s", reg.ID, r.ExtensionID)
			return lifecycle.None
		}
	}
	rec := &reg
	c.did = append(c.did, rec)

	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.did {
			if r == rec {
				c.did = append(c.did[:i:i], c.did[i+1:]...)
				break
			}
		}
		return nil
	}))
}

// HasListeners reports whether any will-listener is registered for op.
func (c *Coordinator) HasListeners(op Operation) bool {
	return len(c.willFor(op)) > 0
}

func (c *Coordinator) willFor(op Operation) []*Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Registration
	for _, r := range c.will {
		if r.Operation == op {
			out = append(out, r)
		}
	}
	return out
}

// FireWillEvent runs every will-listener for op and awaits all of their
// deferred work. Work that takes longer than timeout is reported as slow
// but still awaited and still counted. It returns nil when ctx is done
// once everything settled, or when nobody contributed an edit.
func (c *Coordinator) FireWillEvent(ctx context.Context, op Operation, files []FilePair, timeout time.Duration) *Result {
	listeners := c.willFor(op)
	if len(listeners) == 0 {
		return nil
	}

	col := &collector{logger: c.logger}
	for _, reg := range listeners {
		ev := &Event{
			Operation: op,
			Files:     append([]FilePair(nil), files...),
			ctx:       ctx,
			collector: col,
			listener:  reg,
		}
		c.invoke(reg, ev)
		ev.seal()
	}

	outcomes := col.wait()

	if ctx.Err() != nil {
		c.logger.Debug("%s participation cancelled; discarding %d results", op, len(outcomes))
		return nil
	}

	var result *Result
	for _, o := range outcomes {
		name := o.listener.label()
		if timeout > 0 && o.elapsed > timeout {
			c.logger.WithField("extension", name).
				Warn("slow participant: %s listener of %s took %s (budget %s)", op, name, o.elapsed, timeout)
		}
		if o.err != nil {
			c.logger.WithField("extension", name).Error("%s participant failed: %v", op, o.err)
			continue
		}
		w, ok := edit.From(o.value)
		if !ok {
			continue
		}
		if result == nil {
			result = &Result{Edit: edit.New()}
		}
		result.Edit.Concat(w)
		result.ExtensionNames = appendUnique(result.ExtensionNames, name)
	}
	return result
}

func (c *Coordinator) invoke(reg *Registration, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("extension", reg.label()).Error("participant listener panicked: %v", r)
		}
	}()
	reg.Listener(ev)
}

// FireDidEvent notifies every did-listener for op. Failures are logged.
func (c *Coordinator) FireDidEvent(op Operation, files []FilePair) {
	c.mu.RLock()
	var listeners []*DidRegistration
	for _, r := range c.did {
		if r.Operation == op {
			listeners = append(listeners, r)
		}
	}
	c.mu.RUnlock()

	for _, reg := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithField("extension", reg.ExtensionID).Error("did-listener panicked: %v", r)
				}
			}()
			reg.Listener(op, append([]FilePair(nil), files...))
		}()
	}
}
