package debug

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrInvalidConfiguration is returned when a configuration matches none
	// of its contributor's schemas.
	ErrInvalidConfiguration = errors.New("debug: invalid configuration")

	// ErrNoType is returned for configurations without a "type" attribute.
	ErrNoType = errors.New("debug: configuration has no type")

	// ErrEmptySessionID is returned when a contributor creates a session
	// without an id.
	ErrEmptySessionID = errors.New("debug: contributor returned an empty session id")

	// ErrDuplicateSession is returned when a contributor returns an id that
	// is already bound to a live session.
	ErrDuplicateSession = errors.New("debug: session id already bound")
)

// TriggerKind tells a contributor why configurations are requested.
type TriggerKind int

const (
	// TriggerInitial - a launch file is being created.
	TriggerInitial TriggerKind = 1
	// TriggerDynamic - the user is picking a configuration to run.
	TriggerDynamic TriggerKind = 2
)

// Configuration is a debug configuration document, e.g.
// {"type":"lua","request":"launch","name":"Run","program":"main.lua"}.
type Configuration json.RawMessage

// NewConfiguration builds a configuration with the given type, request and name.
func NewConfiguration(typ, request, name string) Configuration {
	c := Configuration(`{}`)
	c, _ = c.Set("type", typ)
	c, _ = c.Set("request", request)
	c, _ = c.Set("name", name)
	return c
}

// Get returns the attribute at path.
func (c Configuration) Get(path string) gjson.Result {
	return gjson.GetBytes(c, path)
}

// Type returns the debug type.
func (c Configuration) Type() string {
	return c.Get("type").String()
}

// Request returns the request kind ("launch" or "attach").
func (c Configuration) Request() string {
	return c.Get("request").String()
}

// Name returns the configuration name.
func (c Configuration) Name() string {
	return c.Get("name").String()
}

// Set returns a copy of c with the attribute at path set to value.
func (c Configuration) Set(path string, value any) (Configuration, error) {
	src := []byte(c)
	if len(src) == 0 {
		src = []byte(`{}`)
	}
	out, err := sjson.SetBytes(append([]byte(nil), src...), path, value)
	if err != nil {
		return c, err
	}
	return Configuration(out), nil
}

// MarshalJSON returns c as raw JSON.
func (c Configuration) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

// UnmarshalJSON stores a copy of data.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = nil
		return nil
	}
	*c = append((*c)[0:0], data...)
	return nil
}

// SessionDTO describes a session to create.
type SessionDTO struct {
	ID            string        `json:"id,omitempty"`
	Name          string        `json:"name,omitempty"`
	Folder        string        `json:"folder,omitempty"`
	ParentID      string        `json:"parentId,omitempty"`
	Configuration Configuration `json:"configuration"`
}

// DebuggerInfo names a debugger available for a language.
type DebuggerInfo struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// Contributor implements one debug type on behalf of an extension.
type Contributor interface {
	Type() string
	Label() string
	Languages(ctx context.Context) ([]string, error)
	SchemaAttributes(ctx context.Context) ([]json.RawMessage, error)
	ConfigurationSnippets(ctx context.Context) ([]json.RawMessage, error)
	ProvideDebugConfigurations(ctx context.Context, folder string, trigger TriggerKind) ([]Configuration, error)
	ResolveDebugConfiguration(ctx context.Context, folder string, cfg Configuration) (Configuration, error)
	ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, folder string, cfg Configuration) (Configuration, error)
	CreateDebugSession(ctx context.Context, dto SessionDTO) (string, error)
	TerminateDebugSession(ctx context.Context, sessionID string) error
}
