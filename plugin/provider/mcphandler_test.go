package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a2afabric/broker/codec"
	"github.com/a2afabric/broker/plugin"
	mcp "github.com/a2afabric/broker/plugin/transport"
)

type fakeMCPCaller struct {
	gotReq mcp.CallRequest
	resp   mcp.CallResponse
	err    error
}

func (f *fakeMCPCaller) CallTool(_ context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	f.gotReq = req
	return f.resp, f.err
}

func TestMCPHandler_HandleCall_Success(t *testing.T) {
	caller := &fakeMCPCaller{resp: mcp.CallResponse{Result: json.RawMessage(`{"ok":true}`)}}
	h := NewMCPHandler(caller)

	msg := plugin.CallMessage{
		CallUseID:  "call-1",
		Capability: codec.Ident("search-suite.search"),
		Payload:    json.RawMessage(`{"query":"hi"}`),
	}
	result, err := h.HandleCall(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, "call-1", result.CallUseID)
	require.Nil(t, result.Error)
	require.JSONEq(t, `{"ok":true}`, string(result.Result))

	require.Equal(t, "search-suite", caller.gotReq.Suite)
	require.Equal(t, "search", caller.gotReq.Tool)
}

func TestMCPHandler_HandleCall_BareCapability(t *testing.T) {
	caller := &fakeMCPCaller{resp: mcp.CallResponse{Result: json.RawMessage(`{}`)}}
	h := NewMCPHandler(caller)

	msg := plugin.CallMessage{
		CallUseID:  "call-2",
		Capability: codec.Ident("search"),
		Payload:    json.RawMessage(`{}`),
	}
	_, err := h.HandleCall(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, "", caller.gotReq.Suite)
	require.Equal(t, "search", caller.gotReq.Tool)
}

func TestMCPHandler_HandleCall_MCPError(t *testing.T) {
	caller := &fakeMCPCaller{err: &mcp.Error{Code: mcp.JSONRPCInvalidParams, Message: "bad query"}}
	h := NewMCPHandler(caller)

	msg := plugin.CallMessage{
		CallUseID:  "call-3",
		Capability: codec.Ident("search-suite.search"),
		Payload:    json.RawMessage(`{}`),
	}
	result, err := h.HandleCall(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	require.Equal(t, "invalid_arguments", result.Error.Code)
	require.Equal(t, "bad query", result.Error.Message)
}

func TestMCPHandler_HandleCall_GenericError(t *testing.T) {
	caller := &fakeMCPCaller{err: errUnexpectedTransportFailure}
	h := NewMCPHandler(caller)

	msg := plugin.CallMessage{
		CallUseID:  "call-4",
		Capability: codec.Ident("search-suite.search"),
		Payload:    json.RawMessage(`{}`),
	}
	result, err := h.HandleCall(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	require.Equal(t, "execution_failed", result.Error.Code)
}

var errUnexpectedTransportFailure = errTransportFailure("connection reset")

type errTransportFailure string

func (e errTransportFailure) Error() string { return string(e) }
