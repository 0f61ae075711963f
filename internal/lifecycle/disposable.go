// Package lifecycle provides the disposable primitives shared by the
// extension host components.
//
// Every registration an extension makes (a participant listener, a debug
// contribution, an API bridge) hands back a Disposable. Disposables owned by
// an extension are collected in a Disposables store and released when the
// extension is deactivated.
package lifecycle

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Disposable releases a resource.
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a function to the Disposable interface.
type DisposeFunc func() error

// Dispose calls f.
func (f DisposeFunc) Dispose() error {
	if f == nil {
		return nil
	}
	return f()
}

// None is a Disposable that does nothing.
var None Disposable = DisposeFunc(nil)

// Once wraps d so that only the first Dispose call reaches it.
func Once(d Disposable) Disposable {
	var once sync.Once
	return DisposeFunc(func() error {
		var err error
		once.Do(func() {
			if d != nil {
				err = d.Dispose()
			}
		})
		return err
	})
}

// Disposables is an ordered, concurrency-safe collection of disposables.
type Disposables struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// NewDisposables creates an empty store.
func NewDisposables() *Disposables {
	return &Disposables{}
}

// Add appends d to the store. Adding to a disposed store disposes d at once.
func (s *Disposables) Add(d Disposable) {
	if d == nil {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = d.Dispose()
		return
	}
	s.items = append(s.items, d)
	s.mu.Unlock()
}

// Items returns a snapshot of the stored disposables.
func (s *Disposables) Items() []Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Disposable(nil), s.items...)
}

// Len returns the number of stored disposables.
func (s *Disposables) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Dispose releases every stored disposable in insertion order. All of them
// are attempted; failures and panics are combined into the returned error.
func (s *Disposables) Dispose() error {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.disposed = true
	s.mu.Unlock()

	var err error
	for _, d := range items {
		err = multierr.Append(err, SafeDispose(d))
	}
	return err
}

// SafeDispose disposes d and converts a panic into an error.
func SafeDispose(d Disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose panic: %v", r)
		}
	}()
	return d.Dispose()
}
