package registry

import "github.com/a2afabric/broker/registry/store"

type (
	// RegisterPayload is the input to Register.
	RegisterPayload struct {
		Name        string
		Description *string
		Version     *string
		Tags        []string
		Tools       []*store.ToolSchema
	}

	// RegisterResult is returned by Register.
	RegisterResult struct {
		StreamID     string
		RegisteredAt string
	}

	// UnregisterPayload is the input to Unregister.
	UnregisterPayload struct {
		Name string
	}

	// PongPayload is the input to Pong.
	PongPayload struct {
		Toolset string
	}

	// ListToolsetsPayload is the input to ListToolsets.
	ListToolsetsPayload struct {
		Tags []string
	}

	// ListToolsetsResult is returned by ListToolsets.
	ListToolsetsResult struct {
		Toolsets []*ToolsetInfo
	}

	// ToolsetInfo is toolset metadata without the full tool schemas.
	ToolsetInfo struct {
		Name         string
		Description  *string
		Version      *string
		Tags         []string
		ToolCount    int
		RegisteredAt string
	}

	// GetToolsetPayload is the input to GetToolset.
	GetToolsetPayload struct {
		Name string
	}

	// SearchPayload is the input to Search.
	SearchPayload struct {
		Query string
	}

	// SearchResult is returned by Search.
	SearchResult struct {
		Toolsets []*ToolsetInfo
	}

	// CallMeta carries call-site context propagated alongside a tool call.
	CallMeta struct {
		RunID            string
		SessionID        string
		TurnID           *string
		ToolCallID       *string
		ParentToolCallID *string
	}

	// CallToolPayload is the input to CallTool.
	CallToolPayload struct {
		Toolset     string
		Tool        string
		PayloadJSON []byte
		Meta        *CallMeta
	}

	// CallToolResult is returned by CallTool.
	CallToolResult struct {
		ToolUseID      string
		ResultStreamID string
	}
)
