package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a2afabric/broker/plugin"
	mcp "github.com/a2afabric/broker/plugin/transport"
)

// MCPHandler adapts an mcp.Caller — a stdio, SSE, or JSON-RPC MCP client — to
// the Handler interface consumed by Serve. It is the bridge between the
// registry-routed stream protocol (plugin.CallMessage/plugin.ResultMessage)
// and the Model Context Protocol tool-call wire format.
//
// Capability identifiers are expected in "suite.tool" form, where suite names
// the MCP server the provider fronts and tool is the MCP-local tool name.
// Identifiers without a "." are passed through as bare tool names against an
// empty suite.
type MCPHandler struct {
	caller mcp.Caller
}

// NewMCPHandler builds a Handler that dispatches capability calls to caller.
func NewMCPHandler(caller mcp.Caller) *MCPHandler {
	return &MCPHandler{caller: caller}
}

// HandleCall implements Handler by translating msg into an MCP CallRequest,
// invoking the caller, and translating the response (or error) back into a
// plugin.ResultMessage.
func (h *MCPHandler) HandleCall(ctx context.Context, msg plugin.CallMessage) (plugin.ResultMessage, error) {
	suite, tool := splitCapability(msg.Capability.String())

	resp, err := h.caller.CallTool(ctx, mcp.CallRequest{
		Suite:   suite,
		Tool:    tool,
		Payload: json.RawMessage(msg.Payload),
	})
	if err != nil {
		return plugin.ResultMessage{
			CallUseID: msg.CallUseID,
			Error:     callErrorFromMCPError(err),
		}, nil
	}

	return plugin.NewResultMessage(msg.CallUseID, resp.Result), nil
}

// splitCapability divides a fully qualified capability identifier into its
// MCP suite and tool segments at the last ".".
func splitCapability(capability string) (suite, tool string) {
	idx := strings.LastIndex(capability, ".")
	if idx < 0 {
		return "", capability
	}
	return capability[:idx], capability[idx+1:]
}

// callErrorFromMCPError converts an MCP JSON-RPC error (or any other error
// returned by a Caller) into the plugin wire protocol's CallError.
func callErrorFromMCPError(err error) *plugin.CallError {
	var mcpErr *mcp.Error
	if e, ok := err.(*mcp.Error); ok {
		mcpErr = e
	}
	if mcpErr != nil {
		return &plugin.CallError{
			Code:    mcpErrorCode(mcpErr.Code),
			Message: mcpErr.Message,
		}
	}
	return &plugin.CallError{
		Code:    "execution_failed",
		Message: err.Error(),
	}
}

// mcpErrorCode maps a JSON-RPC error code to the plugin wire protocol's error
// code vocabulary so executor retry-hint classification applies uniformly
// regardless of transport.
func mcpErrorCode(code int) string {
	switch code {
	case mcp.JSONRPCInvalidParams:
		return "invalid_arguments"
	case mcp.JSONRPCMethodNotFound:
		return "not_found"
	case mcp.JSONRPCInvalidRequest, mcp.JSONRPCParseError:
		return "invalid_input"
	default:
		return fmt.Sprintf("mcp_error_%d", code)
	}
}
