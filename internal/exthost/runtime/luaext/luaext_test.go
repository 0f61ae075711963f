package luaext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/api"
	"github.com/dshills/exthost/internal/participant"
)

type fixture struct {
	coordinator *participant.Coordinator
	debug       *debug.Registry
}

func newFixture() *fixture {
	return &fixture{
		coordinator: participant.NewCoordinator(nil),
		debug:       debug.NewRegistry(nil),
	}
}

func (f *fixture) load(t *testing.T, kind extension.HostKind, script string, caps ...string) *Module {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	rec := &extension.Record{
		ID:           "acme.sample",
		Name:         "sample",
		DisplayName:  "Sample",
		Version:      "1.0.0",
		Path:         dir,
		Capabilities: caps,
	}
	actx := api.New(rec, kind, api.Deps{Participants: f.coordinator, Debug: f.debug})
	m, err := Load(context.Background(), path, actx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.State().Close() })
	return m
}

func TestSandbox_BlocksLoaders(t *testing.T) {
	s := NewState()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.DoString(ctx, `assert(dofile == nil and loadfile == nil and load == nil)`))
	require.NoError(t, s.DoString(ctx, `assert(io == nil and os == nil)`))
	require.NoError(t, s.DoString(ctx, `local t = require("table"); assert(t.insert ~= nil)`))

	err := s.DoString(ctx, `require("io")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestSandbox_Capabilities(t *testing.T) {
	s := NewState()
	defer s.Close()

	sb := s.Sandbox()
	assert.ErrorAs(t, sb.CheckCapability(CapabilityFileRead), new(*CapabilityError))

	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	sb.Grant(CapabilityFileRead)
	assert.True(t, sb.HasCapability(CapabilityFileRead))
	assert.NoError(t, sb.CheckCapability(CapabilityFileRead))
	assert.Equal(t, []Capability{CapabilityFileRead}, sb.Capabilities())

	require.NoError(t, s.DoString(context.Background(), `
		local n = 0
		for _ in fs.lines("`+path+`") do n = n + 1 end
		assert(n == 2)
		assert(fs.read("`+path+`") == "one\ntwo\n")
		assert(fs.write == nil)
	`))
}

func TestState_ExecutionTimeout(t *testing.T) {
	s := NewState(WithExecutionTimeout(50 * time.Millisecond))
	defer s.Close()

	err := s.DoString(context.Background(), `while true do end`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutionTimeout))
}

func TestState_Closed(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.DoString(context.Background(), `x = 1`), ErrStateClosed)
	assert.False(t, s.HasGlobalFunction("print"))
}

func TestState_CallGlobal(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, `function add(a, b) return a + b, "ok" end`))
	out, err := s.CallGlobal(ctx, "add", func(*lua.LState) []lua.LValue {
		return []lua.LValue{lua.LNumber(2), lua.LNumber(3)}
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, lua.LNumber(5), out[0])

	_, err = s.CallGlobal(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestBridge(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v := ToLua(L, map[string]any{"name": "x", "list": []any{int64(1), 2.5, true}})
	got := ToGo(v)
	assert.Equal(t, map[string]any{"name": "x", "list": []any{int64(1), 2.5, true}}, got)

	raw, err := ToJSON(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","list":[1,2.5,true]}`, string(raw))

	back, err := FromJSON(L, raw)
	require.NoError(t, err)
	assert.Equal(t, "x", back.(*lua.LTable).RawGetString("name").String())
}

const renameScript = `
local ext = require("ext")

function activate(ctx)
  ext.workspace.on_will_rename_files(function(e)
    local target = e.files[1].target
    e:wait_until(ext.edit.new():insert(target, 0, 0, "HELLO"))
    e:wait_until(function()
      return ext.edit.new():insert(target, 0, 0, " WORLD")
    end)
  end)
  return { id = ctx.extension.id, kind = ctx.kind }
end
`

func TestModule_RenameParticipant(t *testing.T) {
	f := newFixture()
	m := f.load(t, extension.HostProcess, renameScript)

	exports, err := m.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "acme.sample", "kind": "process"}, exports)

	files := []participant.FilePair{{Source: "file:///w/a.txt", Target: "file:///w/b.txt"}}
	res := f.coordinator.FireWillEvent(context.Background(), participant.OperationRename, files, time.Second)
	require.NotNil(t, res)
	assert.Equal(t, []string{"Sample"}, res.ExtensionNames)

	text, err := edit.Apply("", res.Edit.EditsFor("file:///w/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", text)

	assert.Nil(t, f.coordinator.FireWillEvent(context.Background(), participant.OperationDelete, files, time.Second))
}

func TestModule_DidListenerAndDispose(t *testing.T) {
	f := newFixture()
	m := f.load(t, extension.HostProcess, `
		local ext = require("ext")
		seen = 0
		function activate()
		  sub = ext.workspace.on_did_create_files(function(files)
		    seen = seen + #files
		  end)
		end
		function stop() sub:dispose() end
	`)
	ctx := context.Background()
	_, err := m.Activate(ctx)
	require.NoError(t, err)

	files := []participant.FilePair{{Target: "file:///w/a"}, {Target: "file:///w/b"}}
	f.coordinator.FireDidEvent(participant.OperationCreate, files)

	_, err = m.State().CallGlobal(ctx, "stop", nil)
	require.NoError(t, err)
	f.coordinator.FireDidEvent(participant.OperationCreate, files)

	require.NoError(t, m.State().DoString(ctx, `assert(seen == 2, "seen " .. seen)`))
}

func TestModule_DebugContributor(t *testing.T) {
	f := newFixture()
	m := f.load(t, extension.HostProcess, `
		local ext = require("ext")
		terminated = nil
		function activate()
		  ext.debug.register_contributor({
		    type = "luadbg",
		    label = "Lua Debugger",
		    languages = { "lua" },
		    configurations = { { type = "luadbg", request = "launch", name = "Run" } },
		    create_session = function(s) return "lua-" .. s.configuration.name end,
		    terminate_session = function(id) terminated = id end,
		  })
		end
	`)
	ctx := context.Background()
	_, err := m.Activate(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"luadbg"}, f.debug.Types())
	assert.Equal(t, []debug.DebuggerInfo{{Type: "luadbg", Label: "Lua Debugger"}}, f.debug.GetDebuggersForLanguage(ctx, "lua"))

	cfgs, err := f.debug.ProvideDebugConfigurations(ctx, "luadbg", "/w", debug.TriggerInitial)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "Run", cfgs[0].Name())

	id, ok, err := f.debug.CreateSession(ctx, debug.SessionDTO{Name: "s", Configuration: cfgs[0]})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lua-Run", id)

	require.NoError(t, f.debug.TerminateSession(ctx, id))
	require.NoError(t, m.State().DoString(ctx, `assert(terminated == "lua-Run")`))
}

func TestModule_WorkerGetsNoCapabilities(t *testing.T) {
	f := newFixture()
	m := f.load(t, extension.HostWorker, `assert(fs == nil)`, string(CapabilityFileRead))
	assert.Empty(t, m.State().Sandbox().Capabilities())

	p := f.load(t, extension.HostProcess, `assert(fs ~= nil)`, string(CapabilityFileRead))
	assert.Equal(t, []Capability{CapabilityFileRead}, p.State().Sandbox().Capabilities())
}

func TestModule_Deactivate(t *testing.T) {
	f := newFixture()
	m := f.load(t, extension.HostProcess, `
		function deactivate() error("boom") end
	`)
	err := m.Deactivate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, m.State().IsClosed())
}

func TestLoad_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function (`), 0o644))

	rec := &extension.Record{ID: "acme.broken", Name: "broken", Version: "1.0.0", Path: dir}
	_, err := Load(context.Background(), path, api.New(rec, extension.HostProcess, api.Deps{}))
	assert.Error(t, err)
}
