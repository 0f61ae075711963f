package debug

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/exthost/internal/logging"
)

func dto(typ string) SessionDTO {
	return SessionDTO{Configuration: NewConfiguration(typ, "launch", "Run")}
}

func TestRegistry_DuplicateTypeKeepsOriginal(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(logging.NewWithCore(core))

	original := &BasicContributor{DebugType: "lua", Create: func(context.Context, SessionDTO) (string, error) { return "from-original", nil }}
	intruder := &BasicContributor{DebugType: "lua", Create: func(context.Context, SessionDTO) (string, error) { return "from-intruder", nil }}

	r.RegisterContribution("", original)
	d := r.RegisterContribution("lua", intruder)
	require.NoError(t, d.Dispose(), "no-op disposable")
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	id, ok, err := r.CreateSession(context.Background(), dto("lua"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-original", id)

	c, ok := r.Contributor("lua")
	require.True(t, ok)
	assert.Same(t, original, c)
}

func TestRegistry_CreateSessionUnknownType(t *testing.T) {
	r := NewRegistry(nil)
	id, ok, err := r.CreateSession(context.Background(), dto("go"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestRegistry_SessionLifecycle(t *testing.T) {
	r := NewRegistry(nil)

	var terminated []string
	c := &BasicContributor{
		DebugType: "lua",
		Terminate: func(_ context.Context, id string) error {
			terminated = append(terminated, id)
			return nil
		},
	}
	r.RegisterContribution("lua", c)

	id, ok, err := r.CreateSession(context.Background(), dto("lua"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, id, "generated id")
	assert.Equal(t, []string{id}, r.Sessions())
	assert.Equal(t, 1, c.ActiveSessions())

	require.NoError(t, r.TerminateSession(context.Background(), id))
	assert.Equal(t, []string{id}, terminated)
	assert.Empty(t, r.Sessions())

	// Terminating again, or an unknown id, is a no-op.
	require.NoError(t, r.TerminateSession(context.Background(), id))
	require.NoError(t, r.TerminateSession(context.Background(), "never-existed"))
	assert.Len(t, terminated, 1)
}

func TestRegistry_CreateSessionError(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterContribution("lua", &BasicContributor{
		DebugType: "lua",
		Create:    func(context.Context, SessionDTO) (string, error) { return "", errors.New("adapter missing") },
	})

	_, ok, err := r.CreateSession(context.Background(), dto("lua"))
	assert.False(t, ok)
	assert.ErrorContains(t, err, "adapter missing")
	assert.Empty(t, r.Sessions())
}

// blankIDContributor creates sessions without an id.
type blankIDContributor struct {
	*BasicContributor
}

func (blankIDContributor) CreateDebugSession(context.Context, SessionDTO) (string, error) {
	return "", nil
}

func TestRegistry_CreateSessionRejectsEmptyID(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterContribution("lua", blankIDContributor{&BasicContributor{DebugType: "lua"}})

	id, ok, err := r.CreateSession(context.Background(), dto("lua"))
	assert.ErrorIs(t, err, ErrEmptySessionID)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Empty(t, r.Sessions())
}

func TestRegistry_CreateSessionDuplicateIDKeepsFirstBinding(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(logging.NewWithCore(core))

	var luaTerminated, goTerminated []string
	same := func(context.Context, SessionDTO) (string, error) { return "s1", nil }
	r.RegisterContribution("lua", &BasicContributor{
		DebugType: "lua",
		Create:    same,
		Terminate: func(_ context.Context, id string) error {
			luaTerminated = append(luaTerminated, id)
			return nil
		},
	})
	r.RegisterContribution("go", &BasicContributor{
		DebugType: "go",
		Create:    same,
		Terminate: func(_ context.Context, id string) error {
			goTerminated = append(goTerminated, id)
			return nil
		},
	})

	id, ok, err := r.CreateSession(context.Background(), dto("lua"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	_, ok, err = r.CreateSession(context.Background(), dto("go"))
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, []string{"s1"}, goTerminated, "the duplicate is torn down")
	assert.Empty(t, luaTerminated)

	// The original binding still routes.
	require.NoError(t, r.TerminateSession(context.Background(), "s1"))
	assert.Equal(t, []string{"s1"}, luaTerminated)
	assert.Len(t, goTerminated, 1)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterContribution("lua", &BasicContributor{DebugType: "lua"})

	r.UnregisterContribution("lua")
	r.UnregisterContribution("lua")
	_, ok := r.Contributor("lua")
	assert.False(t, ok)

	// The type can be registered again afterwards.
	r.RegisterContribution("lua", &BasicContributor{DebugType: "lua"})
	assert.Equal(t, []string{"lua"}, r.Types())
}

type failingLanguages struct {
	BasicContributor
}

func (f *failingLanguages) Languages(context.Context) ([]string, error) {
	return nil, errors.New("not ready")
}

func TestRegistry_GetDebuggersForLanguage(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterContribution("lua", &BasicContributor{DebugType: "lua", DebugLabel: "Lua Debugger", LanguageIDs: []string{"lua"}})
	r.RegisterContribution("luajit", &BasicContributor{DebugType: "luajit", LanguageIDs: []string{"Lua", "c"}})
	r.RegisterContribution("go", &BasicContributor{DebugType: "go", LanguageIDs: []string{"go"}})
	r.RegisterContribution("broken", &failingLanguages{BasicContributor{DebugType: "broken"}})

	got := r.GetDebuggersForLanguage(context.Background(), "lua")
	assert.Equal(t, []DebuggerInfo{
		{Type: "lua", Label: "Lua Debugger"},
		{Type: "luajit", Label: "luajit"},
	}, got)

	assert.Empty(t, r.GetDebuggersForLanguage(context.Background(), "rust"))
}

type disposableContributor struct {
	BasicContributor
	mu       sync.Mutex
	disposed int
}

func (d *disposableContributor) Dispose() error {
	d.mu.Lock()
	d.disposed++
	d.mu.Unlock()
	return nil
}

func TestRegistry_DisposeTerminatesSessionsFirst(t *testing.T) {
	r := NewRegistry(nil)

	var order []string
	c := &disposableContributor{}
	c.DebugType = "lua"
	c.Terminate = func(_ context.Context, id string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		assert.Zero(t, c.disposed, "sessions terminate before the contribution is disposed")
		order = append(order, id)
		return nil
	}
	r.RegisterContribution("lua", c)

	for _, id := range []string{"s1", "s2"} {
		d := dto("lua")
		d.ID = id
		_, _, err := r.CreateSession(context.Background(), d)
		require.NoError(t, err)
	}

	require.NoError(t, r.Dispose(context.Background()))
	assert.Equal(t, []string{"s1", "s2"}, order)
	assert.Equal(t, 1, c.disposed)
	assert.Empty(t, r.Sessions())
	assert.Empty(t, r.Types())
}

func TestRegistry_ResolveAndValidate(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterContribution("lua", &BasicContributor{
		DebugType: "lua",
		Schemas: []json.RawMessage{
			json.RawMessage(`{"type":"object","required":["program"],"properties":{"request":{"enum":["launch"]}}}`),
			json.RawMessage(`{"type":"object","required":["port"],"properties":{"request":{"enum":["attach"]}}}`),
		},
		Configurations: []Configuration{NewConfiguration("lua", "launch", "Run file")},
		Resolve: func(_ context.Context, folder string, cfg Configuration) (Configuration, error) {
			if cfg.Get("program").Exists() {
				return cfg, nil
			}
			return cfg.Set("program", folder+"/main.lua")
		},
	})

	cfgs, err := r.ProvideDebugConfigurations(context.Background(), "lua", "/work", TriggerInitial)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "Run file", cfgs[0].Name())

	cfg := NewConfiguration("lua", "launch", "Run")
	assert.ErrorIs(t, r.ValidateConfiguration(context.Background(), cfg), ErrInvalidConfiguration)

	resolved, err := r.ResolveDebugConfiguration(context.Background(), "/work", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/work/main.lua", resolved.Get("program").String())
	assert.NoError(t, r.ValidateConfiguration(context.Background(), resolved))

	attach, err := NewConfiguration("lua", "attach", "Attach").Set("port", 8172)
	require.NoError(t, err)
	assert.NoError(t, r.ValidateConfiguration(context.Background(), attach))

	unknown := NewConfiguration("go", "launch", "x")
	same, err := r.ResolveDebugConfiguration(context.Background(), "/work", unknown)
	require.NoError(t, err)
	assert.Equal(t, unknown, same)
	assert.NoError(t, r.ValidateConfiguration(context.Background(), unknown))
	assert.ErrorIs(t, r.ValidateConfiguration(context.Background(), Configuration(`{}`)), ErrNoType)
}

func TestConfiguration_JSON(t *testing.T) {
	d := dto("lua")
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"configuration":{"type":"lua","request":"launch","name":"Run"}}`, string(data))

	var back SessionDTO
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "lua", back.Configuration.Type())
}
