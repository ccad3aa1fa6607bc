package durable

import (
	"context"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
	"github.com/a2afabric/broker/router"
)

// Dispatcher is the narrow router.Router surface DispatchAgentActivity
// needs; router.Router satisfies it directly.
type Dispatcher interface {
	Send(ctx context.Context, q router.DiscoveryQuery, kind string, call func(ctx context.Context, agent model.AgentId, endpoint model.Endpoint) error) error
}

var (
	activityDispatcher Dispatcher
	activityCaller     func(ctx context.Context, agent model.AgentId, endpoint model.Endpoint, req DispatchRequest) (DispatchResult, error)
)

// BindDispatcher must be called once during broker startup, before any
// worker is started, so DispatchAgentActivity (a plain function, as
// Temporal activities must be registrable by reference) can reach the
// router without relying on workflow-passed state.
func BindDispatcher(d Dispatcher, caller func(ctx context.Context, agent model.AgentId, endpoint model.Endpoint, req DispatchRequest) (DispatchResult, error)) {
	activityDispatcher = d
	activityCaller = caller
}

// DispatchAgentActivity routes req through the bound Dispatcher to a
// capable agent and returns its artifacts. Temporal retries this
// activity per the workflow's RetryPolicy on transport errors the same
// way router.Router's own retry/failover loop does for non-durable
// calls; the two retry layers are complementary, not redundant, since
// Temporal's survives a broker process restart and router.Router's does
// not.
func DispatchAgentActivity(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if activityDispatcher == nil || activityCaller == nil {
		return DispatchResult{}, a2aerr.New(a2aerr.Internal, "durable: no dispatcher bound")
	}
	q := router.DiscoveryQuery{RequiredCapabilities: map[string]struct{}{req.RequiredCapability: {}}}
	var result DispatchResult
	err := activityDispatcher.Send(ctx, q, "processA2AMessage", func(ctx context.Context, agent model.AgentId, endpoint model.Endpoint) error {
		r, err := activityCaller(ctx, agent, endpoint, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return DispatchResult{}, err
	}
	return result, nil
}
