package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the outcome classification of one expert workflow run.
// It is the sole signal the scheduler uses to branch control flow.
type WorkflowStatus string

const (
	// WorkflowSuccess indicates the workflow produced a usable result.
	WorkflowSuccess WorkflowStatus = "success"
	// WorkflowExecutionError indicates the workflow itself failed while running.
	WorkflowExecutionError WorkflowStatus = "execution_error"
	// WorkflowInputDataError indicates the unit rejected the data produced
	// by its predecessors.
	WorkflowInputDataError WorkflowStatus = "input_data_error"
	// WorkflowJobTooComplicated indicates the unit cannot be completed as
	// scoped and must be re-decomposed.
	WorkflowJobTooComplicated WorkflowStatus = "job_too_complicated_error"
)

// WorkflowMessage is the result artifact produced by executing one
// sub-job's workflow.
type WorkflowMessage struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// JobID identifies the sub-job this message belongs to
	JobID string `json:"job_id"`

	// Status classifies the workflow outcome
	Status WorkflowStatus `json:"status"`

	// Payload is the produced result text (scratchpad)
	Payload string `json:"payload,omitempty"`

	// Evaluation is an optional reviewer/evaluator remark about the result
	Evaluation string `json:"evaluation,omitempty"`

	// Lesson carries corrective feedback for a retried unit of work
	Lesson string `json:"lesson,omitempty"`

	// InputTokens and OutputTokens are usage counters reported by the expert
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// LatencyMS is the wall-clock duration of the workflow run
	LatencyMS float64 `json:"latency_ms,omitempty"`

	// CreatedAt is when the message was produced
	CreatedAt time.Time `json:"created_at"`
}

// NewWorkflowMessage creates a message for the given sub-job.
func NewWorkflowMessage(jobID string, status WorkflowStatus, payload string) *WorkflowMessage {
	return &WorkflowMessage{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    status,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// ExpertInput is the input handed to an expert for one sub-job run.
// It aggregates the outputs of the sub-job's graph predecessors plus any
// lesson attached by a retry or rollback.
type ExpertInput struct {
	// JobID identifies the sub-job to execute
	JobID string `json:"job_id"`

	// PredecessorOutputs are the workflow messages of completed predecessors
	PredecessorOutputs []*WorkflowMessage `json:"predecessor_outputs,omitempty"`

	// Lesson is corrective feedback from a failed consumer or retry
	Lesson string `json:"lesson,omitempty"`
}

// AddLesson appends corrective feedback, keeping earlier lessons.
func (in *ExpertInput) AddLesson(lesson string) {
	if lesson == "" {
		return
	}
	if in.Lesson == "" {
		in.Lesson = lesson
		return
	}
	in.Lesson = in.Lesson + "\n" + lesson
}

// CombinedPayload concatenates all predecessor payloads into one context
// block for the expert prompt.
func (in *ExpertInput) CombinedPayload() string {
	parts := make([]string, 0, len(in.PredecessorOutputs))
	for _, m := range in.PredecessorOutputs {
		if m != nil && m.Payload != "" {
			parts = append(parts, m.Payload)
		}
	}
	return strings.Join(parts, "\n\n")
}

// MessageRole classifies a persisted conversation message.
type MessageRole string

const (
	MessageRoleSystem MessageRole = "system"
	MessageRoleUser   MessageRole = "user"
)

// SystemMessage is a human-readable notification attached to a root job,
// such as a failure or stop explanation. Upserts are keyed by
// (job id, role) so repeated failures overwrite rather than accumulate.
type SystemMessage struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id"`
	SessionID string      `json:"session_id,omitempty"`
	Role      MessageRole `json:"role"`
	Payload   string      `json:"payload"`
	UpdatedAt time.Time   `json:"updated_at"`
}
