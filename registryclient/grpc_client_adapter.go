// Package registryclient provides client-side components for agents to consume
// the internal tool registry.
//
// This package is embedded into agent runtimes and provides:
//
//   - RegistryClient interface — abstraction for registry communication
//   - GRPCClientAdapter — wraps the hand-rolled registry gRPC client to
//     implement RegistryClient
//   - Manager — coordinates multiple registry connections and tool discovery
//
// For the server-side registry implementation that runs as a standalone
// service, see the registry package (github.com/a2afabric/broker/registry).
package registryclient

import (
	"context"

	"github.com/a2afabric/broker/registry"
	"github.com/a2afabric/broker/registry/store"
)

// registryGRPCClient is the subset of *registry.Client that GRPCClientAdapter
// depends on. Declaring it as an interface keeps the adapter testable without
// standing up a real gRPC connection.
type registryGRPCClient interface {
	ListToolsets(ctx context.Context, p *registry.ListToolsetsPayload) (*registry.ListToolsetsResult, error)
	GetToolset(ctx context.Context, p *registry.GetToolsetPayload) (*store.Toolset, error)
	Search(ctx context.Context, p *registry.SearchPayload) (*registry.SearchResult, error)
}

// GRPCClientAdapter wraps the hand-rolled registry gRPC client and implements
// the RegistryClient interface for use with the runtime Manager.
type GRPCClientAdapter struct {
	client registryGRPCClient
}

// NewGRPCClientAdapter creates a new adapter that wraps the registry gRPC
// client and implements the RegistryClient interface.
func NewGRPCClientAdapter(client registryGRPCClient) *GRPCClientAdapter {
	return &GRPCClientAdapter{client: client}
}

// ListToolsets returns all available toolsets from the registry.
func (a *GRPCClientAdapter) ListToolsets(ctx context.Context) ([]*ToolsetInfo, error) {
	resp, err := a.client.ListToolsets(ctx, &registry.ListToolsetsPayload{})
	if err != nil {
		return nil, err
	}
	return convertToolsetInfoList(resp.Toolsets), nil
}

// GetToolset retrieves the full schema for a specific toolset.
func (a *GRPCClientAdapter) GetToolset(ctx context.Context, name string) (*ToolsetSchema, error) {
	toolset, err := a.client.GetToolset(ctx, &registry.GetToolsetPayload{Name: name})
	if err != nil {
		return nil, err
	}
	return convertToolset(toolset), nil
}

// Search performs a keyword search on the registry.
func (a *GRPCClientAdapter) Search(ctx context.Context, query string) ([]*SearchResult, error) {
	resp, err := a.client.Search(ctx, &registry.SearchPayload{Query: query})
	if err != nil {
		return nil, err
	}
	return convertSearchResults(resp.Toolsets), nil
}

// convertToolsetInfoList converts registry ToolsetInfo to runtime ToolsetInfo.
func convertToolsetInfoList(toolsets []*registry.ToolsetInfo) []*ToolsetInfo {
	if len(toolsets) == 0 {
		return nil
	}
	result := make([]*ToolsetInfo, len(toolsets))
	for i, ts := range toolsets {
		result[i] = &ToolsetInfo{
			Name:        ts.Name,
			Description: derefString(ts.Description),
			Version:     derefString(ts.Version),
			Tags:        ts.Tags,
		}
	}
	return result
}

// convertToolset converts a store.Toolset to a runtime ToolsetSchema.
func convertToolset(ts *store.Toolset) *ToolsetSchema {
	tools := make([]*ToolSchema, len(ts.Tools))
	for i, t := range ts.Tools {
		tools[i] = &ToolSchema{
			Name:        t.Name,
			Description: derefString(t.Description),
			InputSchema: t.PayloadSchema,
		}
	}
	return &ToolsetSchema{
		Name:        ts.Name,
		Description: derefString(ts.Description),
		Version:     derefString(ts.Version),
		Tools:       tools,
	}
}

// convertSearchResults converts registry ToolsetInfo list to runtime SearchResult list.
func convertSearchResults(toolsets []*registry.ToolsetInfo) []*SearchResult {
	if len(toolsets) == 0 {
		return nil
	}
	result := make([]*SearchResult, len(toolsets))
	for i, ts := range toolsets {
		result[i] = &SearchResult{
			Name:        ts.Name,
			Description: derefString(ts.Description),
			Type:        "toolset",
			Tags:        ts.Tags,
		}
	}
	return result
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Compile-time assertion that GRPCClientAdapter implements RegistryClient.
var _ RegistryClient = (*GRPCClientAdapter)(nil)
