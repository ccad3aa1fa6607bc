package durable

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
)

// TaskQueue is the default Temporal task queue this broker's durable
// engine mode uses for task workflows.
const TaskQueue = "a2a-task-queue"

// WorkerHandle owns the Temporal client and worker started by NewWorker,
// mirroring the teacher engine's Client()/Worker() lifecycle split but
// collapsed to the single workflow/activity pair this package defines.
type WorkerHandle struct {
	Client client.Client
	worker worker.Worker
}

// NewWorker dials Temporal at hostPort, wires the OTEL tracing/metrics
// interceptor the same way the teacher's configureInstrumentation does,
// and registers TaskWorkflow and DispatchAgentActivity on TaskQueue.
func NewWorker(hostPort, namespace string) (*WorkerHandle, error) {
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "durable: build otel tracing interceptor")
	}
	metricsHandler, err := temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "durable: build otel metrics handler")
	}

	cli, err := client.Dial(client.Options{
		HostPort:     hostPort,
		Namespace:    namespace,
		Interceptors: []interceptor.ClientInterceptor{tracingInterceptor},
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.PluginUnavailable, err, "durable: dial temporal at %s", hostPort)
	}

	w := worker.New(cli, TaskQueue, worker.Options{})
	w.RegisterWorkflow(TaskWorkflow)
	w.RegisterActivity(DispatchAgentActivity)

	return &WorkerHandle{Client: cli, worker: w}, nil
}

// Run starts the worker, blocking until ctx is cancelled.
func (h *WorkerHandle) Run(ctx context.Context) error {
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	if err := h.worker.Run(stop); err != nil {
		return a2aerr.Wrap(a2aerr.Internal, err, "durable: worker run")
	}
	return nil
}

// Close releases the underlying Temporal client connection.
func (h *WorkerHandle) Close() { h.Client.Close() }

// SubmitTask starts a durable TaskWorkflow execution for task, using
// "task-<task.ID>" as the Temporal workflow id so re-submission and
// cancellation (CancelTask builds the same id) correlate by task id.
func (h *WorkerHandle) SubmitTask(ctx context.Context, task model.A2ATask, req DispatchRequest) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("task-%s", task.ID),
		TaskQueue: TaskQueue,
	}
	run, err := h.Client.ExecuteWorkflow(ctx, opts, TaskWorkflow, TaskWorkflowInput{Task: task, DispatchReq: req})
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "durable: start workflow for task %s", task.ID)
	}
	return run, nil
}

// CancelTask signals the running workflow for taskID to stop, which
// TaskWorkflow observes via its cancel-signal selector branch.
func (h *WorkerHandle) CancelTask(ctx context.Context, taskID model.TaskId) error {
	wid := fmt.Sprintf("task-%s", taskID)
	if err := h.Client.SignalWorkflow(ctx, wid, "", CancelSignalName, nil); err != nil {
		return a2aerr.Wrap(a2aerr.TaskNotFound, err, "durable: signal cancel for task %s", taskID)
	}
	return nil
}
