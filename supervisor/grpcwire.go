package supervisor

// This file is the plugin RPC wire transport (SPEC_FULL.md §4.5
// expansion): a hand-assembled grpc.ServiceDesc exchanging
// structpb.Struct field-bags, following the same pattern as
// registry/grpcwire.go. Initialize/Shutdown/HealthCheck/RegisterAgent/
// UnregisterAgent/ListAgents/GetAgentCapabilities/ProcessA2AMessage are
// unary; ProcessA2AStream is the one bidirectional-streaming method,
// consumed by the streaming subsystem (package chunkstream), never
// called from the supervisor's unary call path.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/a2afabric/broker/model"
)

const pluginServiceName = "a2afabric.plugin.Plugin"

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

func decodeStruct(s *structpb.Struct, out any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// PluginServer is implemented by whatever the plugin process hosts on
// its control channel. The supervisor only ever acts as the client
// side of this interface; Server here documents the contract a plugin
// process must expose (used by tests that stand up an in-process
// fake plugin).
type PluginServer interface {
	Initialize(ctx context.Context, pluginID string, config map[string]any, supportedProtocols []string) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	ProcessA2AMessage(ctx context.Context, msg model.A2AMessage) (*model.A2AMessage, error)
	RegisterAgent(ctx context.Context, card model.AgentCard) error
	UnregisterAgent(ctx context.Context, id model.AgentId) error
	ListAgents(ctx context.Context) ([]model.AgentCard, error)
	GetAgentCapabilities(ctx context.Context, id model.AgentId) ([]model.Capability, error)
}

type grpcServer struct{ impl PluginServer }

func unaryHandler[Req, Resp any](call func(ctx context.Context, impl PluginServer, req *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
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
			resp, err := call(ctx, s.impl, req.(*Req))
			if err != nil {
				return nil, err
			}
			return encodeStruct(resp)
		}
		if interceptor == nil {
			return handle(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pluginServiceName}
		return interceptor(ctx, req, info, handle)
	}
}

type initializeReq struct {
	PluginID           string         `json:"pluginId"`
	Config             map[string]any `json:"config"`
	SupportedProtocols []string       `json:"supportedProtocols"`
}

func initializeHandler(ctx context.Context, impl PluginServer, req *initializeReq) (*struct{}, error) {
	return &struct{}{}, impl.Initialize(ctx, req.PluginID, req.Config, req.SupportedProtocols)
}

func shutdownHandler(ctx context.Context, impl PluginServer, _ *struct{}) (*struct{}, error) {
	return &struct{}{}, impl.Shutdown(ctx)
}

func healthCheckHandler(ctx context.Context, impl PluginServer, _ *struct{}) (*struct{}, error) {
	return &struct{}{}, impl.HealthCheck(ctx)
}

func processMessageHandler(ctx context.Context, impl PluginServer, req *model.A2AMessage) (*model.A2AMessage, error) {
	resp, err := impl.ProcessA2AMessage(ctx, *req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func registerAgentHandler(ctx context.Context, impl PluginServer, req *model.AgentCard) (*struct{}, error) {
	return &struct{}{}, impl.RegisterAgent(ctx, *req)
}

type agentIDReq struct {
	AgentID model.AgentId `json:"agentId"`
}

func unregisterAgentHandler(ctx context.Context, impl PluginServer, req *agentIDReq) (*struct{}, error) {
	return &struct{}{}, impl.UnregisterAgent(ctx, req.AgentID)
}

type listAgentsResp struct {
	Agents []model.AgentCard `json:"agents"`
}

func listAgentsHandler(ctx context.Context, impl PluginServer, _ *struct{}) (*listAgentsResp, error) {
	agents, err := impl.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return &listAgentsResp{Agents: agents}, nil
}

type capabilitiesResp struct {
	Capabilities []model.Capability `json:"capabilities"`
}

func getAgentCapabilitiesHandler(ctx context.Context, impl PluginServer, req *agentIDReq) (*capabilitiesResp, error) {
	caps, err := impl.GetAgentCapabilities(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return &capabilitiesResp{Capabilities: caps}, nil
}

var pluginServiceDesc = grpc.ServiceDesc{
	ServiceName: pluginServiceName,
	HandlerType: (*grpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: unaryHandler(initializeHandler)},
		{MethodName: "Shutdown", Handler: unaryHandler(shutdownHandler)},
		{MethodName: "HealthCheck", Handler: unaryHandler(healthCheckHandler)},
		{MethodName: "ProcessA2AMessage", Handler: unaryHandler(processMessageHandler)},
		{MethodName: "RegisterAgent", Handler: unaryHandler(registerAgentHandler)},
		{MethodName: "UnregisterAgent", Handler: unaryHandler(unregisterAgentHandler)},
		{MethodName: "ListAgents", Handler: unaryHandler(listAgentsHandler)},
		{MethodName: "GetAgentCapabilities", Handler: unaryHandler(getAgentCapabilitiesHandler)},
	},
	// ProcessA2AStream is bidirectional-streaming and is registered
	// separately (see streamDesc below) since grpc.ServiceDesc keeps
	// unary and streaming methods in distinct lists.
	Streams: []grpc.StreamDesc{
		{StreamName: "ProcessA2AStream", ServerStreams: true, ClientStreams: true, Handler: processStreamHandler},
	},
	Metadata: "plugin.proto",
}

// processStreamHandler relays structpb frames between the gRPC stream
// and the streaming subsystem (package chunkstream) bidirectionally;
// the supervisor layer itself never inspects frame contents.
func processStreamHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*grpcServer)
	bidi, ok := s.impl.(interface {
		ServeA2AStream(grpc.ServerStream) error
	})
	if !ok {
		return fmt.Errorf("plugin: ProcessA2AStream not implemented by this server")
	}
	return bidi.ServeA2AStream(stream)
}

// RegisterPluginServer registers impl onto a gRPC server without a
// protoc-generated RegisterXServer function.
func RegisterPluginServer(s *grpc.Server, impl PluginServer) {
	s.RegisterService(&pluginServiceDesc, &grpcServer{impl: impl})
}

// NewInstrumentedServer builds a *grpc.Server with the otelgrpc stats
// handler installed, for plugin processes hosting a PluginServer.
func NewInstrumentedServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	return grpc.NewServer(opts...)
}

// rpcClient is the supervisor's hand-rolled client for the plugin RPC
// surface, matching pluginServiceDesc's wire format.
type rpcClient struct {
	cc *grpc.ClientConn
}

func dialRPC(addr string) (*rpcClient, error) {
	// otelgrpc instruments the control channel so plugin-RPC spans
	// propagate trace context across the process boundary (SPEC_FULL.md
	// §4.8 expansion) without hand-rolled metadata plumbing.
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()), // plugin control channel is loopback-only
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	return &rpcClient{cc: cc}, nil
}

func (c *rpcClient) invoke(ctx context.Context, method string, req, resp any) error {
	reqStruct, err := encodeStruct(req)
	if err != nil {
		return err
	}
	respStruct := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+pluginServiceName+"/"+method, reqStruct, respStruct); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decodeStruct(respStruct, resp)
}

func (c *rpcClient) Initialize(ctx context.Context, pluginID string) error {
	return c.invoke(ctx, "Initialize", &initializeReq{PluginID: pluginID}, nil)
}

func (c *rpcClient) HealthCheck(ctx context.Context) error {
	return c.invoke(ctx, "HealthCheck", &struct{}{}, nil)
}

func (c *rpcClient) Shutdown(ctx context.Context) error {
	return c.invoke(ctx, "Shutdown", &struct{}{}, nil)
}

// ProcessA2AMessage forwards a message through the plugin's unary
// handler, bounded by call_timeout from config.
func (c *rpcClient) ProcessA2AMessage(ctx context.Context, timeout time.Duration, msg model.A2AMessage) (*model.A2AMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := new(model.A2AMessage)
	if err := c.invoke(ctx, "ProcessA2AMessage", &msg, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
