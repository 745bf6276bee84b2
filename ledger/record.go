// Package ledger provides the execution provenance store: an
// append-only record of every workflow, operator, and action execution,
// linked by trace and span ids for reconstruction and reverse lookup,
// with an optional durable backing.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ActionExecutionRecord captures one model or tool invocation inside an
// operator. Records are immutable once logged.
type ActionExecutionRecord struct {
	// RecordID is the primary key of the record
	RecordID string `json:"record_id"`

	// ActionID identifies the configured action that ran
	ActionID string `json:"action_id"`

	// OperatorID and WorkflowVersionID locate the action in the run
	OperatorID        string `json:"operator_id"`
	WorkflowVersionID string `json:"workflow_version_id"`

	// ExpertName names the owning expert
	ExpertName string `json:"expert_name"`

	// Timestamp is when the action completed
	Timestamp time.Time `json:"timestamp"`

	// ActionType classifies the invocation ("llm", "tool", ...)
	ActionType string `json:"action_type"`

	// Instruction is the prompt or instruction given to the action
	Instruction string `json:"instruction,omitempty"`

	// ModelName names the invoked model, when applicable
	ModelName string `json:"model_name,omitempty"`

	// RawOutput is the unprocessed output text
	RawOutput string `json:"raw_output,omitempty"`

	// Error records a failed invocation; retained for offline inspection
	Error string `json:"error,omitempty"`

	// Token and latency counters as reported by the invocation
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	TotalTokens  int     `json:"total_tokens,omitempty"`
	LatencyMS    float64 `json:"latency_ms,omitempty"`

	// Score and Feedback carry review signals attached to the action
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`

	// TraceID, SpanID and ParentSpanID link the record causally
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// NewActionExecutionRecord creates a record with a fresh id and timestamp.
func NewActionExecutionRecord() *ActionExecutionRecord {
	return &ActionExecutionRecord{
		RecordID:  uuid.NewString(),
		Timestamp: time.Now(),
	}
}

// OperatorExecutionRecord aggregates the actions of one workflow step.
type OperatorExecutionRecord struct {
	// RecordID is the primary key of the record
	RecordID string `json:"record_id"`

	// OperatorID identifies the configured operator that ran
	OperatorID string `json:"operator_id"`

	// OperatorName is the operator's display name
	OperatorName string `json:"operator_name,omitempty"`

	// WorkflowVersionID locates the operator in its run
	WorkflowVersionID string `json:"workflow_version_id"`

	// ExpertName names the owning expert
	ExpertName string `json:"expert_name"`

	// Timestamp is when the operator completed
	Timestamp time.Time `json:"timestamp"`

	// Lesson is the corrective feedback the operator ran with, if any
	Lesson string `json:"lesson,omitempty"`

	// Output is the operator's final answer
	Output string `json:"output,omitempty"`

	// Evaluation is an operator-level review remark
	Evaluation string `json:"evaluation,omitempty"`

	// ActionRecordIDs lists the record ids of the actions this operator ran
	ActionRecordIDs []string `json:"action_record_ids,omitempty"`

	// LatencyMS is the operator's wall-clock duration
	LatencyMS float64 `json:"latency_ms,omitempty"`

	// TraceID, SpanID and ParentSpanID link the record causally
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// NewOperatorExecutionRecord creates a record with a fresh id and timestamp.
func NewOperatorExecutionRecord() *OperatorExecutionRecord {
	return &OperatorExecutionRecord{
		RecordID:  uuid.NewString(),
		Timestamp: time.Now(),
	}
}

// WorkflowExecutionRecord is the root of one expert workflow run.
type WorkflowExecutionRecord struct {
	// WorkflowVersionID is the primary key of the record
	WorkflowVersionID string `json:"workflow_version_id"`

	// ExpertName names the owning expert
	ExpertName string `json:"expert_name"`

	// JobID identifies the sub-job the workflow executed
	JobID string `json:"job_id,omitempty"`

	// Timestamp is when the workflow completed
	Timestamp time.Time `json:"timestamp"`

	// Status is the workflow's outcome classification
	Status string `json:"status,omitempty"`

	// OperatorRecordIDs lists the operator records logged under this run
	OperatorRecordIDs []string `json:"operator_record_ids,omitempty"`

	// TraceID and SpanID link the record causally
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// Chain is a reconstructed workflow execution tree.
type Chain struct {
	Workflow  *WorkflowExecutionRecord `json:"workflow"`
	Operators []*OperatorChain         `json:"operators"`
}

// OperatorChain pairs one operator record with its action records.
type OperatorChain struct {
	Operator *OperatorExecutionRecord `json:"operator"`
	Actions  []*ActionExecutionRecord `json:"actions"`
}

// Location is the ancestry of one action record.
type Location struct {
	Workflow *WorkflowExecutionRecord `json:"workflow"`
	Operator *OperatorExecutionRecord `json:"operator"`
	Action   *ActionExecutionRecord   `json:"action"`
}

// Sample is a flat training-data projection of one action record.
type Sample struct {
	Prompt            string   `json:"prompt"`
	Output            string   `json:"output"`
	Score             *float64 `json:"score,omitempty"`
	Feedback          string   `json:"feedback,omitempty"`
	InputTokens       int      `json:"input_tokens"`
	OutputTokens      int      `json:"output_tokens"`
	TotalTokens       int      `json:"total_tokens"`
	LatencyMS         float64  `json:"latency_ms"`
	Model             string   `json:"model"`
	TraceID           string   `json:"trace_id"`
	OperatorID        string   `json:"operator_id"`
	WorkflowVersionID string   `json:"workflow_version_id"`
	Timestamp         string   `json:"timestamp"`
}

// SampleFilter selects action records for export. Zero values match all.
type SampleFilter struct {
	// ModelName restricts samples to one model
	ModelName string
	// MinScore drops unscored records and records scoring below it
	MinScore *float64
}

func (r *ActionExecutionRecord) toSample() Sample {
	return Sample{
		Prompt:            r.Instruction,
		Output:            r.RawOutput,
		Score:             r.Score,
		Feedback:          r.Feedback,
		InputTokens:       r.InputTokens,
		OutputTokens:      r.OutputTokens,
		TotalTokens:       r.TotalTokens,
		LatencyMS:         r.LatencyMS,
		Model:             r.ModelName,
		TraceID:           r.TraceID,
		OperatorID:        r.OperatorID,
		WorkflowVersionID: r.WorkflowVersionID,
		Timestamp:         r.Timestamp.Format(time.RFC3339Nano),
	}
}

// matches reports whether the record passes the filter.
func (f SampleFilter) matches(r *ActionExecutionRecord) bool {
	if f.ModelName != "" && r.ModelName != f.ModelName {
		return false
	}
	if f.MinScore != nil {
		if r.Score == nil || *r.Score < *f.MinScore {
			return false
		}
	}
	return true
}
