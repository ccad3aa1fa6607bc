package registry

// This file wires the registry Service onto the wire as a plain gRPC
// service, hand-assembling the grpc.ServiceDesc instead of depending on a
// protoc-generated stub. Every RPC exchanges a structpb.Struct field-bag:
// request/response DTOs are marshaled to JSON, reinterpreted as a
// map[string]any, and lifted into a Struct (and back on decode). This keeps
// the transport on real gRPC semantics (codecs, interceptors, streaming
// framing) without a code-generation step.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/a2afabric/broker/registry/store"
	goa "goa.design/goa/v3/pkg"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "a2afabric.registry.Registry"

// encodeStruct lifts a Go value into a structpb.Struct by round-tripping it
// through JSON. v must marshal to a JSON object.
func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %T as object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// decodeStruct lowers a structpb.Struct into a Go value via the same JSON
// round-trip. out must be a pointer.
func decodeStruct(s *structpb.Struct, out any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal into %T: %w", out, err)
	}
	return nil
}

// grpcServer adapts *Service to the hand-assembled ServiceDesc below.
type grpcServer struct {
	svc *Service
}

func newGRPCServer(svc *Service) *grpcServer {
	return &grpcServer{svc: svc}
}

func unaryHandler[Req, Resp any](call func(ctx context.Context, svc *Service, req *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		req := new(Req)
		if err := decodeStruct(in, req); err != nil {
			return nil, err
		}
		s := srv.(*grpcServer)
		handle := func(ctx context.Context, req any) (any, error) {
			resp, err := call(ctx, s.svc, req.(*Req))
			if err != nil {
				return nil, statusFromServiceError(err)
			}
			return encodeStruct(resp)
		}
		if interceptor == nil {
			return handle(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		return interceptor(ctx, req, info, handle)
	}
}

func registerHandler(ctx context.Context, svc *Service, req *RegisterPayload) (*RegisterResult, error) {
	return svc.Register(ctx, req)
}

func unregisterHandler(ctx context.Context, svc *Service, req *UnregisterPayload) (*struct{}, error) {
	return &struct{}{}, svc.Unregister(ctx, req)
}

func pongHandler(ctx context.Context, svc *Service, req *PongPayload) (*struct{}, error) {
	return &struct{}{}, svc.Pong(ctx, req)
}

func listToolsetsHandler(ctx context.Context, svc *Service, req *ListToolsetsPayload) (*ListToolsetsResult, error) {
	return svc.ListToolsets(ctx, req)
}

func getToolsetHandler(ctx context.Context, svc *Service, req *GetToolsetPayload) (*store.Toolset, error) {
	return svc.GetToolset(ctx, req)
}

func searchHandler(ctx context.Context, svc *Service, req *SearchPayload) (*SearchResult, error) {
	return svc.Search(ctx, req)
}

func callToolHandler(ctx context.Context, svc *Service, req *CallToolPayload) (*CallToolResult, error) {
	return svc.CallTool(ctx, req)
}

// serviceDesc is the hand-assembled gRPC service description for the
// registry. Clients invoke methods by their full path, e.g.
// "/a2afabric.registry.Registry/Register".
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*grpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(registerHandler)},
		{MethodName: "Unregister", Handler: unaryHandler(unregisterHandler)},
		{MethodName: "Pong", Handler: unaryHandler(pongHandler)},
		{MethodName: "ListToolsets", Handler: unaryHandler(listToolsetsHandler)},
		{MethodName: "GetToolset", Handler: unaryHandler(getToolsetHandler)},
		{MethodName: "Search", Handler: unaryHandler(searchHandler)},
		{MethodName: "CallTool", Handler: unaryHandler(callToolHandler)},
	},
	Metadata: "registry.proto",
}

// registerRegistryServer registers the registry service onto a gRPC server
// without a protoc-generated RegisterXServer function.
func registerRegistryServer(s *grpc.Server, svc *Service) {
	s.RegisterService(&serviceDesc, newGRPCServer(svc))
}

// statusFromServiceError carries goa.ServiceError fields across the wire as
// gRPC status details, since the default status only keeps a code and a
// message string.
func statusFromServiceError(err error) error {
	var se *goa.ServiceError
	if !errors.As(err, &se) {
		return err
	}
	st := status.New(codes.Unknown, se.Error())
	detail, derr := structpb.NewStruct(map[string]any{
		"name":      se.Name,
		"message":   se.Message,
		"timeout":   se.Timeout,
		"temporary": se.Temporary,
		"fault":     se.Fault,
	})
	if derr != nil {
		return st.Err()
	}
	withDetail, derr := st.WithDetails(detail)
	if derr != nil {
		return st.Err()
	}
	return withDetail.Err()
}

// serviceErrorFromStatus reconstructs a *goa.ServiceError from gRPC status
// details attached by statusFromServiceError, when present.
func serviceErrorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		m := s.AsMap()
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		message, _ := m["message"].(string)
		timeout, _ := m["timeout"].(bool)
		temporary, _ := m["temporary"].(bool)
		fault, _ := m["fault"].(bool)
		return goa.NewServiceError(errors.New(message), name, timeout, temporary, fault)
	}
	return err
}

// Client is a hand-rolled gRPC client for the registry service, matching the
// wire format produced by serviceDesc: every RPC exchanges a structpb.Struct.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established gRPC connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req any, resp any) error {
	reqStruct, err := encodeStruct(req)
	if err != nil {
		return err
	}
	respStruct := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, reqStruct, respStruct); err != nil {
		return serviceErrorFromStatus(err)
	}
	if resp == nil {
		return nil
	}
	return decodeStruct(respStruct, resp)
}

// Register registers a toolset with the registry.
func (c *Client) Register(ctx context.Context, p *RegisterPayload) (*RegisterResult, error) {
	out := new(RegisterResult)
	if err := c.invoke(ctx, "Register", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unregister removes a toolset from the registry.
func (c *Client) Unregister(ctx context.Context, p *UnregisterPayload) error {
	return c.invoke(ctx, "Unregister", p, nil)
}

// Pong records a health check pong.
func (c *Client) Pong(ctx context.Context, p *PongPayload) error {
	return c.invoke(ctx, "Pong", p, nil)
}

// ListToolsets lists registered toolsets, optionally filtered by tags.
func (c *Client) ListToolsets(ctx context.Context, p *ListToolsetsPayload) (*ListToolsetsResult, error) {
	out := new(ListToolsetsResult)
	if err := c.invoke(ctx, "ListToolsets", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetToolset fetches a toolset by name, including its tool schemas.
func (c *Client) GetToolset(ctx context.Context, p *GetToolsetPayload) (*store.Toolset, error) {
	out := new(store.Toolset)
	if err := c.invoke(ctx, "GetToolset", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search searches toolsets by keyword.
func (c *Client) Search(ctx context.Context, p *SearchPayload) (*SearchResult, error) {
	out := new(SearchResult)
	if err := c.invoke(ctx, "Search", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallTool invokes a tool through the registry gateway.
func (c *Client) CallTool(ctx context.Context, p *CallToolPayload) (*CallToolResult, error) {
	out := new(CallToolResult)
	if err := c.invoke(ctx, "CallTool", p, out); err != nil {
		return nil, err
	}
	return out, nil
}
