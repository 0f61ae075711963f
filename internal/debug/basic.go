package debug

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// BasicContributor is a Contributor assembled from static data and
// optional callbacks. Session ids are generated when Create is nil.
type BasicContributor struct {
	DebugType      string
	DebugLabel     string
	LanguageIDs    []string
	Schemas        []json.RawMessage
	Snippets       []json.RawMessage
	Configurations []Configuration

	// Resolve fills in a configuration. nil returns it unchanged.
	Resolve func(ctx context.Context, folder string, cfg Configuration) (Configuration, error)
	// Create starts a session. nil generates an id.
	Create func(ctx context.Context, dto SessionDTO) (string, error)
	// Terminate stops a session. May be nil.
	Terminate func(ctx context.Context, id string) error

	mu       sync.Mutex
	sessions map[string]SessionDTO
}

var _ Contributor = (*BasicContributor)(nil)

// Type returns the debug type.
func (b *BasicContributor) Type() string { return b.DebugType }

// Label returns the display label, falling back to the type.
func (b *BasicContributor) Label() string {
	if b.DebugLabel != "" {
		return b.DebugLabel
	}
	return b.DebugType
}

// Languages returns the supported language ids.
func (b *BasicContributor) Languages(context.Context) ([]string, error) {
	return b.LanguageIDs, nil
}

// SchemaAttributes returns the configuration schemas.
func (b *BasicContributor) SchemaAttributes(context.Context) ([]json.RawMessage, error) {
	return b.Schemas, nil
}

// ConfigurationSnippets returns the snippets.
func (b *BasicContributor) ConfigurationSnippets(context.Context) ([]json.RawMessage, error) {
	return b.Snippets, nil
}

// ProvideDebugConfigurations returns the static configurations.
func (b *BasicContributor) ProvideDebugConfigurations(context.Context, string, TriggerKind) ([]Configuration, error) {
	return b.Configurations, nil
}

// ResolveDebugConfiguration calls Resolve.
func (b *BasicContributor) ResolveDebugConfiguration(ctx context.Context, folder string, cfg Configuration) (Configuration, error) {
	if b.Resolve == nil {
		return cfg, nil
	}
	return b.Resolve(ctx, folder, cfg)
}

// ResolveDebugConfigurationWithSubstitutedVariables returns cfg unchanged.
func (b *BasicContributor) ResolveDebugConfigurationWithSubstitutedVariables(_ context.Context, _ string, cfg Configuration) (Configuration, error) {
	return cfg, nil
}

// CreateDebugSession creates a session and remembers it.
func (b *BasicContributor) CreateDebugSession(ctx context.Context, dto SessionDTO) (string, error) {
	id := dto.ID
	if b.Create != nil {
		var err error
		if id, err = b.Create(ctx, dto); err != nil {
			return "", err
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	b.mu.Lock()
	if b.sessions == nil {
		b.sessions = make(map[string]SessionDTO)
	}
	dto.ID = id
	b.sessions[id] = dto
	b.mu.Unlock()
	return id, nil
}

// TerminateDebugSession forgets the session and calls Terminate.
func (b *BasicContributor) TerminateDebugSession(ctx context.Context, id string) error {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	if b.Terminate == nil {
		return nil
	}
	return b.Terminate(ctx, id)
}

// ActiveSessions returns the number of live sessions.
func (b *BasicContributor) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
