package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

const jsonrpcVersion = "2.0"

// HTTPOptions configures an HTTP-based MCP caller (plain JSON-RPC or SSE).
type HTTPOptions struct {
	// Endpoint is the MCP server's JSON-RPC HTTP endpoint.
	Endpoint string
	// Client is the HTTP client used for requests. Defaults to http.DefaultClient.
	Client *http.Client
}

// httpTransport issues JSON-RPC requests over HTTP and tracks request IDs.
// It is shared by HTTPCaller and SSECaller, which differ only in how they
// read the response (plain JSON body vs. an SSE event stream).
type httpTransport struct {
	endpoint string
	client   *http.Client
	nextIDN  atomic.Int64
}

// newHTTPTransport dials opts.Endpoint and performs the MCP initialize
// handshake before returning.
func newHTTPTransport(ctx context.Context, opts HTTPOptions) (*httpTransport, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("mcp: endpoint is required")
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	t := &httpTransport{endpoint: opts.Endpoint, client: client}

	req := rpcRequest{JSONRPC: jsonrpcVersion, Method: "initialize", ID: t.nextID()}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	injectTraceHeaders(ctx, httpReq.Header)
	resp, err := t.client.Do(httpReq) //nolint:gosec // endpoint is operator-configured
	if err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp initialize status %d: %s", resp.StatusCode, string(raw))
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode mcp initialize response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error.callerError()
	}
	return t, nil
}

func (t *httpTransport) nextID() int64 {
	return t.nextIDN.Add(1)
}

// HTTPCaller implements Caller using plain JSON-RPC-over-HTTP POST requests.
type HTTPCaller struct {
	transport *httpTransport
}

// NewHTTPCaller creates an HTTP-based Caller and performs the MCP initialize handshake.
func NewHTTPCaller(ctx context.Context, opts HTTPOptions) (*HTTPCaller, error) {
	transport, err := newHTTPTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &HTTPCaller{transport: transport}, nil
}

// CallTool invokes tools/call over a plain JSON-RPC HTTP POST.
func (c *HTTPCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	params := map[string]any{
		"name":      req.Tool,
		"arguments": req.Payload,
	}
	addTraceMeta(ctx, params)
	rpcReq := rpcRequest{JSONRPC: jsonrpcVersion, Method: "tools/call", ID: c.transport.nextID(), Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return CallResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transport.endpoint, bytes.NewReader(body))
	if err != nil {
		return CallResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	injectTraceHeaders(ctx, httpReq.Header)
	resp, err := c.transport.client.Do(httpReq) //nolint:gosec // endpoint is operator-configured
	if err != nil {
		return CallResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return CallResponse{}, fmt.Errorf("mcp rpc status %d: %s", resp.StatusCode, string(raw))
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return CallResponse{}, err
	}
	if rpcResp.Error != nil {
		return CallResponse{}, rpcResp.Error.callerError()
	}
	return decodeToolCallResult(rpcResp.Result)
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      any    `json:"id"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) callerError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}

// toolsCallResult is the MCP tools/call result envelope (content blocks plus
// an error flag, per the MCP spec).
type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// contentItem is a single MCP content block. Only the text variant is
// consumed: capability results are JSON-encoded and carried as text.
type contentItem struct {
	Type     string  `json:"type"`
	Text     *string `json:"text,omitempty"`
	MimeType string  `json:"mimeType,omitempty"`
}

// decodeToolCallResult extracts the JSON result payload from an MCP
// tools/call result envelope. The broker convention is that MCP tools return
// their structured result as a single text content block containing JSON.
func decodeToolCallResult(raw json.RawMessage) (CallResponse, error) {
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallResponse{}, fmt.Errorf("decode mcp tool result: %w", err)
	}
	if result.IsError {
		msg := "mcp tool reported an error"
		if len(result.Content) > 0 && result.Content[0].Text != nil {
			msg = *result.Content[0].Text
		}
		return CallResponse{}, &Error{Code: JSONRPCInternalError, Message: msg}
	}
	for _, item := range result.Content {
		if item.Type == "text" && item.Text != nil {
			return CallResponse{Result: json.RawMessage(*item.Text)}, nil
		}
	}
	return CallResponse{Result: raw}, nil
}
