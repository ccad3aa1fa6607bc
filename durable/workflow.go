// Package durable backs the task lifecycle (C3) with Temporal as an
// optional durable-execution mode: instead of holding a model.A2ATask's
// state machine only in the engine process's memory, TaskWorkflow drives
// the same submitted->working->completed/failed/cancelled transitions as
// a Temporal workflow, surviving broker process restarts. It is grounded
// on the teacher's runtime/agent/engine/temporal adapter, trimmed to the
// single workflow/activity pair this broker needs rather than the
// teacher's generic multi-workflow engine abstraction.
package durable

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/a2afabric/broker/model"
)

// TaskWorkflowInput starts a durable task execution.
type TaskWorkflowInput struct {
	Task        model.A2ATask
	DispatchReq DispatchRequest
}

// DispatchRequest is the activity input for routing a task to an agent.
type DispatchRequest struct {
	TaskID             model.TaskId
	RequiredCapability string
	Payload            model.A2AMessage
}

// DispatchResult is the activity output from a successful agent call.
type DispatchResult struct {
	Artifacts []model.Artifact
}

// TaskWorkflowResult is what TaskWorkflow returns on completion.
type TaskWorkflowResult struct {
	FinalState model.TaskState
	Artifacts  []model.Artifact
}

// CancelSignalName is the Temporal signal a broker sends to cancel a
// running task workflow (spec.md §4.3 cancelTask).
const CancelSignalName = "a2a.cancel_task"

// TaskWorkflow runs the full task lifecycle as a Temporal workflow: it
// dispatches via DispatchAgentActivity (retried per the RetryPolicy set in
// its ActivityOptions below) and races the activity's completion against
// a cancel signal, mapping either outcome onto the same TaskState DAG
// model.A2ATask.Transition enforces in-process.
func TaskWorkflow(ctx workflow.Context, input TaskWorkflowInput) (TaskWorkflowResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	cancelCh := workflow.GetSignalChannel(ctx, CancelSignalName)
	var cancelled bool
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
		cancelled = true
	})

	var future workflow.Future
	future = workflow.ExecuteActivity(ctx, DispatchAgentActivity, input.DispatchReq)
	selector.AddFuture(future, func(workflow.Future) {})
	selector.Select(ctx)

	if cancelled {
		return TaskWorkflowResult{FinalState: model.TaskCancelled}, nil
	}

	var result DispatchResult
	if err := future.Get(ctx, &result); err != nil {
		return TaskWorkflowResult{FinalState: model.TaskFailed}, err
	}
	return TaskWorkflowResult{FinalState: model.TaskCompleted, Artifacts: result.Artifacts}, nil
}
