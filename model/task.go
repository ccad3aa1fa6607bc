package model

import (
	"fmt"
	"time"

	"github.com/a2afabric/broker/a2aerr"
)

// TaskState is the task lifecycle state machine described in spec.md §3.
// Submitted is the sole initial state; Completed, Failed and Cancelled are
// terminal (sticky — no further transition is legal once reached).
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input_required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCancelled     TaskState = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// taskTransitions encodes the DAG from spec.md §3: Submitted is initial;
// Working and InputRequired flow into each other; any non-terminal state
// can move to Failed or Cancelled.
var taskTransitions = map[TaskState]map[TaskState]bool{
	TaskSubmitted: {
		TaskWorking:   true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
	TaskWorking: {
		TaskInputRequired: true,
		TaskCompleted:     true,
		TaskFailed:        true,
		TaskCancelled:     true,
	},
	TaskInputRequired: {
		TaskWorking:   true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the task state DAG.
func CanTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	return taskTransitions[from][to]
}

// TaskStatus is the current snapshot of a task's progress.
type TaskStatus struct {
	State               TaskState  `json:"state"`
	Progress            *float64   `json:"progress,omitempty"`
	Message             *A2AMessage `json:"message,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
}

// Artifact is a named, ordered output produced by a task.
type Artifact struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Parts    []MessagePart  `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// A2ATask is a stateful, multi-turn unit of work routed through the
// broker. History is append-only while the task is non-terminal; once a
// terminal state is reached, appends are rejected (TaskTerminal, §7).
type A2ATask struct {
	ID        TaskId       `json:"id"`
	Kind      string       `json:"kind"`
	ContextID *ContextId   `json:"contextId,omitempty"`
	Status    TaskStatus   `json:"status"`
	History   []A2AMessage `json:"history"`
	Artifacts []Artifact   `json:"artifacts,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Transition moves the task to 'to', validating the edge and stamping
// UpdatedAt. Callers hold the per-task lock (§5) around this call.
func (t *A2ATask) Transition(to TaskState) error {
	if !CanTransition(t.Status.State, to) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status.State, to)
	}
	t.Status.State = to
	t.UpdatedAt = time.Now()
	return nil
}

// Append adds a message to the task's history. It rejects the append if
// the task has already reached a terminal state (TaskTerminal, §7).
func (t *A2ATask) Append(msg A2AMessage) error {
	if t.Status.State.Terminal() {
		return a2aerr.New(a2aerr.TaskTerminal, "task %s: terminal state %s rejects further history", t.ID, t.Status.State)
	}
	t.History = append(t.History, msg)
	t.UpdatedAt = time.Now()
	return nil
}
