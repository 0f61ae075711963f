package platform

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/exthost/internal/config"
	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/extension/activation"
	"github.com/dshills/exthost/internal/exthost"
	"github.com/dshills/exthost/internal/exthost/api"
	"github.com/dshills/exthost/internal/exthost/runtime"
	"github.com/dshills/exthost/internal/fileops"
	"github.com/dshills/exthost/internal/participant"
)

type counters struct {
	activated   atomic.Int32
	deactivated atomic.Int32
	did         atomic.Int32
}

// goModule is a Go extension that prefixes renamed files and may
// contribute a debug type.
type goModule struct {
	actx      *api.Context
	prefix    string
	debugType string
	counts    *counters
}

func (m *goModule) Activate(context.Context) (any, error) {
	m.counts.activated.Add(1)
	if m.prefix != "" {
		m.actx.Subscriptions.Add(m.actx.Workspace.OnWillRenameFiles(func(e *participant.Event) {
			e.WaitUntilEdit(edit.New().Insert(e.Files[0].Target, edit.Position{}, m.prefix))
		}))
		m.actx.Subscriptions.Add(m.actx.Workspace.OnDidRenameFiles(func([]participant.FilePair) {
			m.counts.did.Add(1)
		}))
	}
	if m.debugType != "" {
		m.actx.Subscriptions.Add(m.actx.Debug.RegisterDebugContributor(&debug.BasicContributor{
			DebugType:  m.debugType,
			DebugLabel: "Mock",
		}))
	}
	return nil, nil
}

func (m *goModule) Deactivate(context.Context) error {
	m.counts.deactivated.Add(1)
	return nil
}

func factory(prefix, debugType string, c *counters) runtime.ModuleFactory {
	return func(_ context.Context, actx *api.Context) (activation.Module, error) {
		return &goModule{actx: actx, prefix: prefix, debugType: debugType, counts: c}, nil
	}
}

const luaRename = `
local ext = require("ext")

function activate(ctx)
  ext.workspace.on_will_rename_files(function(e)
    e:wait_until(ext.edit.new():insert(e.files[1].target, 0, 0, "LUA "))
  end)
end
`

func writeExtension(t *testing.T, base, dir, manifest string, files map[string]string) {
	t.Helper()
	path := filepath.Join(base, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, extension.ManifestFile), []byte(manifest), 0o644))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(path, name), []byte(body), 0o644))
	}
}

type fixture struct {
	platform *Platform
	base     *counters
	renamer  *counters
	mock     *counters
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exts := t.TempDir()
	writeExtension(t, exts, "base", `{
		"name": "base", "publisher": "acme",
		"main": "go:base", "browser": "go:base",
		"activationEvents": ["*"]
	}`, nil)
	writeExtension(t, exts, "renamer", `{
		"name": "renamer", "publisher": "acme",
		"main": "go:renamer",
		"extensionDependencies": ["acme.base"],
		"activationEvents": ["onFileOperation"]
	}`, nil)
	writeExtension(t, exts, "lua-rename", `{
		"name": "lua-rename", "publisher": "acme", "displayName": "Lua Rename",
		"browser": "rename.lua",
		"activationEvents": ["onFileOperation"]
	}`, map[string]string{"rename.lua": luaRename})
	writeExtension(t, exts, "broken", `{
		"name": "broken", "publisher": "acme",
		"browser": "go:missing",
		"activationEvents": ["onCommand:broken"]
	}`, nil)
	writeExtension(t, exts, "mock-debug", `{
		"name": "mock-debug", "publisher": "acme",
		"browser": "go:mock",
		"activationEvents": ["onDebugResolve:mock"]
	}`, nil)
	writeExtension(t, exts, "cyc-a", `{"name": "cyc-a", "browser": "go:base", "extensionDependencies": ["cyc-b"]}`, nil)
	writeExtension(t, exts, "cyc-b", `{"name": "cyc-b", "browser": "go:base", "extensionDependencies": ["cyc-a"]}`, nil)

	f := &fixture{base: &counters{}, renamer: &counters{}, mock: &counters{}}
	modules := map[string]runtime.ModuleFactory{
		"base":    factory("", "", f.base),
		"renamer": factory("HELLO ", "", f.renamer),
		"mock":    factory("", "mock", f.mock),
	}

	cfg := config.Default()
	cfg.Extensions.Paths = []string{exts}
	cfg.Extensions.CachePath = filepath.Join(t.TempDir(), "catalog.cbor")
	cfg.Hosts.StartTimeout = 5 * time.Second

	// The process host runs in-process so the test needs no binary.
	processHost := exthost.InProcessLauncher(func() *runtime.Runtime {
		return runtime.New(extension.HostProcess, runtime.WithModules(modules))
	})
	f.platform = New(cfg, WithModules(modules), WithProcessLauncher(processHost))
	return f
}

func TestPlatform_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	p := f.platform
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	assert.Len(t, p.Extensions(), 7)
	assert.Len(t, p.Hosts(), 3)
	assert.ErrorIs(t, p.Start(ctx), ErrAlreadyStarted)

	// "*" activated the base extension in both hosts that run it.
	assert.EqualValues(t, 2, f.base.activated.Load())
	statuses := p.Status("acme.base")
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, "active", st.Status)
	}

	require.NoError(t, p.ActivateByEvent(ctx, "onFileOperation"))
	assert.EqualValues(t, 1, f.renamer.activated.Load())
	assert.EqualValues(t, 2, f.base.activated.Load(), "dependency is not activated twice")
	renamer := p.Status("acme.renamer")
	require.Len(t, renamer, 1)
	assert.Equal(t, "process", renamer[0].Kind)

	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(src, []byte("body"), 0o644))

	out, err := p.FileOperations().Rename(ctx, []participant.FilePair{{
		Source: fileops.URIOf(src),
		Target: fileops.URIOf(dst),
	}})
	require.NoError(t, err)
	require.NotNil(t, out.Participation)
	// Process host first, then the worker.
	assert.Equal(t, []string{"acme.renamer", "Lua Rename"}, out.Participation.ExtensionNames)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "HELLO LUA body", string(data))
	assert.EqualValues(t, 1, f.renamer.did.Load())

	require.NoError(t, p.Shutdown(ctx))
	assert.EqualValues(t, 2, f.base.deactivated.Load())
	assert.EqualValues(t, 1, f.renamer.deactivated.Load())
}

func TestPlatform_FailedActivationIsStatus(t *testing.T) {
	f := newFixture(t)
	p := f.platform
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Shutdown(ctx) }()

	require.NoError(t, p.ActivateByEvent(ctx, "onCommand:broken"))
	statuses := p.Status("acme.broken")
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Failed)
	assert.Equal(t, "failed", statuses[0].Status)
	assert.Equal(t, "worker", statuses[0].Kind)
	assert.NotEmpty(t, statuses[0].Error)
}

func TestPlatform_ActivateExtensionErrors(t *testing.T) {
	f := newFixture(t)
	p := f.platform
	ctx := context.Background()

	assert.ErrorIs(t, p.ActivateExtension(ctx, "acme.base"), ErrNotStarted)

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Shutdown(ctx) }()

	assert.ErrorIs(t, p.ActivateExtension(ctx, "acme.nope"), extension.ErrExtensionNotFound)
	assert.ErrorIs(t, p.ActivateExtension(ctx, "cyc-a"), ErrDependencyCycle)
}

func TestPlatform_DebugContributionFromHost(t *testing.T) {
	f := newFixture(t)
	p := f.platform
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.ActivateByEvent(ctx, "onDebugResolve:mock"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"mock"}, p.Debug().Types())
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Shutdown(ctx))
	assert.Empty(t, p.Debug().Types())
	assert.EqualValues(t, 1, f.mock.deactivated.Load())
}

func TestPlatform_CatalogCacheFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.platform.Start(ctx))
	require.NoError(t, f.platform.Shutdown(ctx))

	// Same cache, nothing on disk: the cached catalog is used.
	cfg := *f.platform.cfg
	cfg.Extensions.Paths = []string{t.TempDir()}
	cfg.Hosts.Process.Enabled = false
	cfg.Hosts.Worker.Enabled = false
	p := New(&cfg)
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Shutdown(ctx) }()

	assert.Len(t, p.Extensions(), 7)
	_, ok := p.Host(extension.HostView)
	assert.True(t, ok)
	_, ok = p.Host(extension.HostWorker)
	assert.False(t, ok)
}

func TestPlatform_Reload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.platform.Reload(ctx), ErrNotStarted)

	require.NoError(t, f.platform.Start(ctx))
	defer func() { _ = f.platform.Shutdown(ctx) }()

	exts := f.platform.cfg.Extensions.Paths[0]
	writeExtension(t, exts, "late", `{"name": "late", "browser": "go:base"}`, nil)

	worker, ok := f.platform.Host(extension.HostWorker)
	require.True(t, ok)
	updated := make(chan int, 1)
	d := worker.OnDidUpdateExtensions(func(recs []*extension.Record) { updated <- len(recs) })
	defer d.Dispose()

	require.NoError(t, f.platform.Reload(ctx))
	assert.Equal(t, 8, <-updated)
	_, ok = f.platform.Extension("late")
	assert.True(t, ok)
}
