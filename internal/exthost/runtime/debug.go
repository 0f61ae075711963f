package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/exthost/internal/debug"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// debugService serves protocol.ExtHostDebug from the host-side registry.
type debugService struct{ r *Runtime }

var _ protocol.ExtHostDebug = (*debugService)(nil)

func (s *debugService) contributor(debugType string) (debug.Contributor, error) {
	c, ok := s.r.debug.Contributor(debugType)
	if !ok {
		return nil, fmt.Errorf("no debug contributor for type %q", debugType)
	}
	return c, nil
}

func (s *debugService) GetLanguages(ctx context.Context, params protocol.DebugTypeParams) ([]string, error) {
	c, err := s.contributor(params.Type)
	if err != nil {
		return nil, err
	}
	return c.Languages(ctx)
}

func (s *debugService) GetSchemaAttributes(ctx context.Context, params protocol.DebugTypeParams) ([]json.RawMessage, error) {
	c, err := s.contributor(params.Type)
	if err != nil {
		return nil, err
	}
	return c.SchemaAttributes(ctx)
}

func (s *debugService) GetConfigurationSnippets(ctx context.Context, params protocol.DebugTypeParams) ([]json.RawMessage, error) {
	return s.r.debug.ConfigurationSnippets(ctx, params.Type)
}

func (s *debugService) ProvideDebugConfigurations(ctx context.Context, params protocol.ProvideConfigurationsParams) ([]debug.Configuration, error) {
	return s.r.debug.ProvideDebugConfigurations(ctx, params.Type, params.Folder, params.Trigger)
}

func (s *debugService) ResolveDebugConfiguration(ctx context.Context, params protocol.ResolveConfigurationParams) (debug.Configuration, error) {
	return s.r.debug.ResolveDebugConfiguration(ctx, params.Folder, params.Configuration)
}

func (s *debugService) ResolveDebugConfigurationWithSubstitutedVariables(ctx context.Context, params protocol.ResolveConfigurationParams) (debug.Configuration, error) {
	return s.r.debug.ResolveDebugConfigurationWithSubstitutedVariables(ctx, params.Folder, params.Configuration)
}

func (s *debugService) CreateDebugSession(ctx context.Context, dto debug.SessionDTO) (string, error) {
	id, ok, err := s.r.debug.CreateSession(ctx, dto)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no debug contributor for type %q", dto.Configuration.Type())
	}
	return id, nil
}

func (s *debugService) TerminateDebugSession(ctx context.Context, params protocol.SessionParams) error {
	return s.r.debug.TerminateSession(ctx, params.SessionID)
}
