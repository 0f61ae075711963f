package luaext

import (
	"os"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Capability is a permission an extension requests in its manifest.
type Capability string

// Available capabilities.
const (
	CapabilityFileRead  Capability = "filesystem.read"
	CapabilityFileWrite Capability = "filesystem.write"
	CapabilityEnv       Capability = "env"
)

// ModuleName is the module extensions require to reach the host.
const ModuleName = "ext"

// Sandbox restricts a Lua state to safe operations.
type Sandbox struct {
	L            *lua.LState
	capabilities map[Capability]bool
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L, capabilities: make(map[Capability]bool)}
}

// Install removes loaders that could escape the sandbox and replaces
// require with one that only serves preloaded and pure modules.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	pure := map[string]bool{"string": true, "table": true, "math": true}
	require := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !pure[name] && name != ModuleName && !strings.HasPrefix(name, ModuleName+".") {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(require)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// Grant enables a capability and installs the functions it unlocks.
func (s *Sandbox) Grant(c Capability) {
	if s.capabilities[c] {
		return
	}
	s.capabilities[c] = true

	switch c {
	case CapabilityFileRead:
		s.installFileRead()
	case CapabilityFileWrite:
		s.installFileWrite()
	case CapabilityEnv:
		s.installEnv()
	}
}

// HasCapability returns true if c is granted.
func (s *Sandbox) HasCapability(c Capability) bool {
	return s.capabilities[c]
}

// Capabilities returns the granted capabilities, sorted.
func (s *Sandbox) Capabilities() []Capability {
	out := make([]Capability, 0, len(s.capabilities))
	for c := range s.capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckCapability returns a CapabilityError if c is not granted.
func (s *Sandbox) CheckCapability(c Capability) error {
	if !s.capabilities[c] {
		return &CapabilityError{Capability: c}
	}
	return nil
}

func (s *Sandbox) fsTable() *lua.LTable {
	if t, ok := s.L.GetGlobal("fs").(*lua.LTable); ok {
		return t
	}
	t := s.L.NewTable()
	s.L.SetGlobal("fs", t)
	return t
}

// installFileRead adds fs.read(path) and fs.lines(path).
func (s *Sandbox) installFileRead() {
	fs := s.fsTable()
	s.L.SetField(fs, "read", s.L.NewFunction(func(L *lua.LState) int {
		data, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))
	s.L.SetField(fs, "lines", s.L.NewFunction(func(L *lua.LState) int {
		data, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		lines := splitLines(string(data))
		idx := 0
		L.Push(L.NewFunction(func(L *lua.LState) int {
			if idx >= len(lines) {
				return 0
			}
			L.Push(lua.LString(lines[idx]))
			idx++
			return 1
		}))
		return 1
	}))
}

// installFileWrite adds fs.write(path, text).
func (s *Sandbox) installFileWrite() {
	fs := s.fsTable()
	s.L.SetField(fs, "write", s.L.NewFunction(func(L *lua.LState) int {
		if err := os.WriteFile(L.CheckString(1), []byte(L.CheckString(2)), 0o644); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))
}

// installEnv adds env.get(name).
func (s *Sandbox) installEnv() {
	env := s.L.NewTable()
	s.L.SetField(env, "get", s.L.NewFunction(func(L *lua.LState) int {
		v, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))
	s.L.SetGlobal("env", env)
}

// splitLines splits s into lines without line terminators.
func splitLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// CapabilityError is returned when a capability is not granted.
type CapabilityError struct {
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return "capability not granted: " + string(e.Capability)
}
