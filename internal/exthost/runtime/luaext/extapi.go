package luaext

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/participant"
)

const (
	editTypeName       = "ext.WorkspaceEdit"
	disposableTypeName = "ext.Disposable"
)

// loader builds the "ext" module table.
func (m *Module) loader(L *lua.LState) int {
	m.registerTypes(L)

	mod := L.NewTable()
	mod.RawSetString("extension", m.extensionTable(L))
	mod.RawSetString("log", m.logTable(L))
	mod.RawSetString("edit", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"new": func(L *lua.LState) int {
			L.Push(newEditUserData(L, edit.New()))
			return 1
		},
	}))
	mod.RawSetString("workspace", m.workspaceTable(L))
	mod.RawSetString("debug", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register_contributor": m.registerContributor,
	}))

	L.Push(mod)
	return 1
}

func (m *Module) registerTypes(L *lua.LState) {
	mt := L.NewTypeMetatable(editTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"insert":  editInsert,
		"replace": editReplace,
		"delete":  editDelete,
		"size":    editSize,
	}))

	dt := L.NewTypeMetatable(disposableTypeName)
	L.SetField(dt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"dispose": m.disposeUserData,
	}))
}

func (m *Module) logTable(L *lua.LState) *lua.LTable {
	logger := m.api.Logger
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": func(L *lua.LState) int { logger.Debug("%s", joinArgs(L)); return 0 },
		"info":  func(L *lua.LState) int { logger.Info("%s", joinArgs(L)); return 0 },
		"warn":  func(L *lua.LState) int { logger.Warn("%s", joinArgs(L)); return 0 },
		"error": func(L *lua.LState) int { logger.Error("%s", joinArgs(L)); return 0 },
	})
}

func joinArgs(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, " ")
}

// Workspace events.

func (m *Module) workspaceTable(L *lua.LState) *lua.LTable {
	ws := m.api.Workspace
	will := func(register func(participant.Listener) lifecycle.Disposable) lua.LGFunction {
		return func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			L.Push(m.newDisposable(L, register(m.willListener(fn))))
			return 1
		}
	}
	did := func(register func(func([]participant.FilePair)) lifecycle.Disposable) lua.LGFunction {
		return func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			L.Push(m.newDisposable(L, register(m.didListener(fn))))
			return 1
		}
	}
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on_will_create_files": will(ws.OnWillCreateFiles),
		"on_will_delete_files": will(ws.OnWillDeleteFiles),
		"on_will_rename_files": will(ws.OnWillRenameFiles),
		"on_did_create_files":  did(ws.OnDidCreateFiles),
		"on_did_delete_files":  did(ws.OnDidDeleteFiles),
		"on_did_rename_files":  did(ws.OnDidRenameFiles),
	})
}

// willListener adapts a Lua function to a participant listener. The
// function receives an event table whose wait_until accepts either a
// workspace edit or a function returning one. Functions run after the
// listener returns, once the state is free again.
func (m *Module) willListener(fn *lua.LFunction) participant.Listener {
	return func(e *participant.Event) {
		err := m.state.Do(e.Context(), func(L *lua.LState) error {
			_, err := call(L, fn, []lua.LValue{m.eventTable(L, e)})
			return err
		})
		if err != nil {
			m.logger.Warn("%s listener failed: %v", e.Operation, err)
		}
	}
}

func (m *Module) didListener(fn *lua.LFunction) func([]participant.FilePair) {
	return func(files []participant.FilePair) {
		err := m.state.Do(context.Background(), func(L *lua.LState) error {
			_, err := call(L, fn, []lua.LValue{filesTable(L, files)})
			return err
		})
		if err != nil {
			m.logger.Warn("did listener failed: %v", err)
		}
	}
}

func (m *Module) eventTable(L *lua.LState, e *participant.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("operation", lua.LString(e.Operation.String()))
	t.RawSetString("files", filesTable(L, e.Files))
	t.RawSetString("wait_until", L.NewFunction(func(L *lua.LState) int {
		// Accept both e:wait_until(x) and e.wait_until(x).
		v := L.Get(L.GetTop())
		switch val := v.(type) {
		case *lua.LUserData:
			w, ok := val.Value.(*edit.WorkspaceEdit)
			if !ok {
				L.ArgError(L.GetTop(), "workspace edit expected")
				return 0
			}
			e.WaitUntilEdit(w)
		case *lua.LFunction:
			e.WaitUntil(m.thenable(val))
		default:
			L.ArgError(L.GetTop(), "workspace edit or function expected")
		}
		return 0
	}))
	return t
}

func (m *Module) thenable(fn *lua.LFunction) participant.Thenable {
	return func(ctx context.Context) (any, error) {
		var v any
		err := m.state.Do(ctx, func(L *lua.LState) error {
			out, err := call(L, fn, nil)
			if err != nil {
				return err
			}
			if len(out) > 0 {
				v = ToGo(out[0])
			}
			return nil
		})
		return v, err
	}
}

func filesTable(L *lua.LState, files []participant.FilePair) *lua.LTable {
	t := L.CreateTable(len(files), 0)
	for i, f := range files {
		ft := L.NewTable()
		if f.Source != "" {
			ft.RawSetString("source", lua.LString(f.Source))
		}
		ft.RawSetString("target", lua.LString(f.Target))
		t.RawSetInt(i+1, ft)
	}
	return t
}

// Workspace edits.

func newEditUserData(L *lua.LState, w *edit.WorkspaceEdit) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = w
	L.SetMetatable(ud, L.GetTypeMetatable(editTypeName))
	return ud
}

func checkEdit(L *lua.LState) *edit.WorkspaceEdit {
	ud := L.CheckUserData(1)
	if w, ok := ud.Value.(*edit.WorkspaceEdit); ok {
		return w
	}
	L.ArgError(1, "workspace edit expected")
	return nil
}

func checkPosition(L *lua.LState, n int) edit.Position {
	return edit.Position{Line: L.CheckInt(n), Character: L.CheckInt(n + 1)}
}

// edit:insert(uri, line, character, text)
func editInsert(L *lua.LState) int {
	w := checkEdit(L)
	w.Insert(L.CheckString(2), checkPosition(L, 3), L.CheckString(5))
	L.Push(L.Get(1))
	return 1
}

// edit:replace(uri, start_line, start_char, end_line, end_char, text)
func editReplace(L *lua.LState) int {
	w := checkEdit(L)
	r := edit.Range{Start: checkPosition(L, 3), End: checkPosition(L, 5)}
	w.Replace(L.CheckString(2), r, L.CheckString(7))
	L.Push(L.Get(1))
	return 1
}

// edit:delete(uri, start_line, start_char, end_line, end_char)
func editDelete(L *lua.LState) int {
	w := checkEdit(L)
	r := edit.Range{Start: checkPosition(L, 3), End: checkPosition(L, 5)}
	w.Delete(L.CheckString(2), r)
	L.Push(L.Get(1))
	return 1
}

func editSize(L *lua.LState) int {
	L.Push(lua.LNumber(checkEdit(L).Size()))
	return 1
}

// Disposables.

func (m *Module) newDisposable(L *lua.LState, d lifecycle.Disposable) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = d
	L.SetMetatable(ud, L.GetTypeMetatable(disposableTypeName))
	return ud
}

func (m *Module) disposeUserData(L *lua.LState) int {
	ud := L.CheckUserData(1)
	d, ok := ud.Value.(lifecycle.Disposable)
	if !ok {
		L.ArgError(1, "disposable expected")
		return 0
	}
	if err := d.Dispose(); err != nil {
		m.logger.Warn("dispose: %v", err)
	}
	return 0
}

// Debug contributors.

// registerContributor implements ext.debug.register_contributor{...}.
//
//	type, label, languages, configurations, schema,
//	resolve(folder, config), create_session(session), terminate_session(id)
func (m *Module) registerContributor(L *lua.LState) int {
	t := L.CheckTable(1)
	typ := stringField(t, "type")
	if typ == "" {
		L.ArgError(1, "type is required")
		return 0
	}

	c := &debug.BasicContributor{
		DebugType:   typ,
		DebugLabel:  stringField(t, "label"),
		LanguageIDs: stringList(t, "languages"),
	}

	if cfgs, ok := t.RawGetString("configurations").(*lua.LTable); ok {
		for i := 1; i <= cfgs.Len(); i++ {
			raw, err := ToJSON(cfgs.RawGetInt(i))
			if err != nil {
				L.RaiseError("configuration %d: %v", i, err)
				return 0
			}
			c.Configurations = append(c.Configurations, debug.Configuration(raw))
		}
	}
	if schema, ok := t.RawGetString("schema").(*lua.LTable); ok {
		raw, err := ToJSON(schema)
		if err != nil {
			L.RaiseError("schema: %v", err)
			return 0
		}
		c.Schemas = append(c.Schemas, raw)
	}

	if fn := funcField(t, "resolve"); fn != nil {
		c.Resolve = m.resolveFunc(fn)
	}
	if fn := funcField(t, "create_session"); fn != nil {
		c.Create = m.createFunc(fn)
	}
	if fn := funcField(t, "terminate_session"); fn != nil {
		c.Terminate = m.terminateFunc(fn)
	}

	L.Push(m.newDisposable(L, m.api.Debug.RegisterDebugContributor(c)))
	return 1
}

func (m *Module) resolveFunc(fn *lua.LFunction) func(context.Context, string, debug.Configuration) (debug.Configuration, error) {
	return func(ctx context.Context, folder string, cfg debug.Configuration) (debug.Configuration, error) {
		var resolved debug.Configuration
		err := m.state.Do(ctx, func(L *lua.LState) error {
			arg, err := FromJSON(L, cfg)
			if err != nil {
				return err
			}
			out, err := call(L, fn, []lua.LValue{lua.LString(folder), arg})
			if err != nil {
				return err
			}
			if len(out) == 0 || out[0] == lua.LNil {
				return nil
			}
			raw, err := ToJSON(out[0])
			if err != nil {
				return err
			}
			resolved = debug.Configuration(raw)
			return nil
		})
		return resolved, err
	}
}

func (m *Module) createFunc(fn *lua.LFunction) func(context.Context, debug.SessionDTO) (string, error) {
	return func(ctx context.Context, dto debug.SessionDTO) (string, error) {
		var id string
		err := m.state.Do(ctx, func(L *lua.LState) error {
			cfg, err := FromJSON(L, dto.Configuration)
			if err != nil {
				return err
			}
			session := L.NewTable()
			session.RawSetString("id", lua.LString(dto.ID))
			session.RawSetString("name", lua.LString(dto.Name))
			session.RawSetString("folder", lua.LString(dto.Folder))
			session.RawSetString("parent_id", lua.LString(dto.ParentID))
			session.RawSetString("configuration", cfg)

			out, err := call(L, fn, []lua.LValue{session})
			if err != nil {
				return err
			}
			if len(out) > 0 {
				if s, ok := out[0].(lua.LString); ok {
					id = string(s)
				} else if out[0] != lua.LNil {
					return fmt.Errorf("create_session returned %s, want string", out[0].Type())
				}
			}
			return nil
		})
		return id, err
	}
}

func (m *Module) terminateFunc(fn *lua.LFunction) func(context.Context, string) error {
	return func(ctx context.Context, id string) error {
		return m.state.Do(ctx, func(L *lua.LState) error {
			_, err := call(L, fn, []lua.LValue{lua.LString(id)})
			return err
		})
	}
}
