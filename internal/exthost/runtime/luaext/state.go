// Package luaext runs Lua extensions inside a host.
//
// Each extension gets its own sandboxed State. The io, os and debug
// libraries are not opened and require only serves pure modules, so the
// extension reaches the host through the preloaded "ext" module and
// whatever its granted capabilities add.
package luaext

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds a single call into Lua.
const DefaultExecutionTimeout = 5 * time.Second

// State wraps a gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. Every entry into Lua goes
// through the mutex, including callbacks that participants and debug
// contributors run from other goroutines.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	timeout time.Duration
	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the budget of each call into Lua.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	s := &State{timeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s.L = L
	s.sandbox = NewSandbox(L)
	s.sandbox.Install()
	return s
}

// Sandbox returns the capability sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Do runs fn with exclusive access to the Lua state. A call that runs
// longer than the execution timeout is aborted.
func (s *State) Do(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
	}()
	return fn(s.L)
}

// DoFile executes a Lua file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.Do(ctx, func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.Do(ctx, func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// HasGlobalFunction reports whether name is a global function.
func (s *State) HasGlobalFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// CallGlobal calls the global function name. args builds the arguments
// while the state is locked.
func (s *State) CallGlobal(ctx context.Context, name string, args func(L *lua.LState) []lua.LValue) ([]lua.LValue, error) {
	var out []lua.LValue
	err := s.Do(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFunction, name)
		}
		var err error
		out, err = call(L, fn, argsOf(L, args))
		return err
	})
	return out, err
}

// CallFunction calls fn. args builds the arguments while the state is locked.
func (s *State) CallFunction(ctx context.Context, fn *lua.LFunction, args func(L *lua.LState) []lua.LValue) ([]lua.LValue, error) {
	var out []lua.LValue
	err := s.Do(ctx, func(L *lua.LState) error {
		var err error
		out, err = call(L, fn, argsOf(L, args))
		return err
	})
	return out, err
}

func argsOf(L *lua.LState, args func(L *lua.LState) []lua.LValue) []lua.LValue {
	if args == nil {
		return nil
	}
	return args(L)
}

// call invokes fn and returns only the values it pushed.
func call(L *lua.LState, fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	top := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}
	n := L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	out := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		out[i] = L.Get(top + i + 1)
	}
	L.Pop(n)
	return out, nil
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
