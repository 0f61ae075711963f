package luaext

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/extension/activation"
	"github.com/dshills/exthost/internal/exthost/api"
	"github.com/dshills/exthost/internal/logging"
)

// Module is a loaded Lua extension. Its script may define the globals
// activate(ctx) and deactivate(); both are optional.
type Module struct {
	path   string
	api    *api.Context
	state  *State
	logger *logging.Logger
}

var (
	_ activation.Activator   = (*Module)(nil)
	_ activation.Deactivator = (*Module)(nil)
)

// Load creates a state for the extension described by actx, installs the
// "ext" module and runs the script at path. Extensions running in the
// worker host never receive capabilities.
func Load(ctx context.Context, path string, actx *api.Context, opts ...StateOption) (*Module, error) {
	m := &Module{
		path:   path,
		api:    actx,
		state:  NewState(opts...),
		logger: logging.OrNop(actx.Logger).WithComponent("lua"),
	}

	if actx.Kind == extension.HostProcess {
		for _, c := range actx.Extension.Capabilities {
			m.state.Sandbox().Grant(Capability(c))
		}
	}

	m.state.L.PreloadModule(ModuleName, m.loader)

	if err := m.state.DoFile(ctx, path); err != nil {
		_ = m.state.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}

// Path returns the script path.
func (m *Module) Path() string {
	return m.path
}

// State returns the underlying Lua state.
func (m *Module) State() *State {
	return m.state
}

// Activate calls the script's activate function with an extension
// context table. Its first return value becomes the exported API.
func (m *Module) Activate(ctx context.Context) (any, error) {
	var exports any
	err := m.state.Do(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal("activate").(*lua.LFunction)
		if !ok {
			return nil
		}
		out, err := call(L, fn, []lua.LValue{m.contextTable(L)})
		if err != nil {
			return err
		}
		if len(out) > 0 {
			exports = ToGo(out[0])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", m.api.Extension.ID, err)
	}
	return exports, nil
}

// Deactivate calls the script's deactivate function and closes the state.
func (m *Module) Deactivate(ctx context.Context) error {
	err := m.state.Do(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal("deactivate").(*lua.LFunction)
		if !ok {
			return nil
		}
		_, err := call(L, fn, nil)
		return err
	})
	_ = m.state.Close()
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", m.api.Extension.ID, err)
	}
	return nil
}

func (m *Module) contextTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("extension", m.extensionTable(L))
	t.RawSetString("kind", lua.LString(m.api.Kind.String()))
	return t
}

func (m *Module) extensionTable(L *lua.LState) *lua.LTable {
	rec := m.api.Extension
	t := L.NewTable()
	t.RawSetString("id", lua.LString(rec.ID))
	t.RawSetString("name", lua.LString(rec.Name))
	t.RawSetString("version", lua.LString(rec.Version))
	t.RawSetString("path", lua.LString(rec.Path))
	return t
}

// Close releases the Lua state without calling deactivate.
func (m *Module) Close() error {
	return m.state.Close()
}
