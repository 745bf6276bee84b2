package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext holds the run-time state of one expert invocation
// chain: the trace rooting the whole run, the current workflow, operator
// and action span ids, per-entity execution counts, and aggregated
// token/latency counters.
//
// The context is owned by the expert run that created it. Span issuance
// is serialized so only one in-flight operator of the run mutates the
// context at a time.
type ExecutionContext struct {
	mu sync.Mutex

	// TraceID roots the whole run
	TraceID string

	// WorkflowSpanID is the span of the workflow execution itself
	WorkflowSpanID string

	// WorkflowVersionID identifies the workflow run being recorded
	WorkflowVersionID string

	// ExpertName names the owning expert
	ExpertName string

	// StartTime is when the run began
	StartTime time.Time

	operatorSpans     map[string]string
	operatorExecCount map[string]int
	currentOperatorID string

	actionSpans     map[string]string
	actionExecCount map[string]int
	currentActionID string

	totalInputTokens  int
	totalOutputTokens int
	totalLatencyMS    float64
}

// NewExecutionContext creates the context for one expert run.
func NewExecutionContext(workflowVersionID, expertName string) *ExecutionContext {
	return &ExecutionContext{
		TraceID:           uuid.NewString(),
		WorkflowSpanID:    uuid.NewString(),
		WorkflowVersionID: workflowVersionID,
		ExpertName:        expertName,
		StartTime:         time.Now(),
		operatorSpans:     make(map[string]string),
		operatorExecCount: make(map[string]int),
		actionSpans:       make(map[string]string),
		actionExecCount:   make(map[string]int),
	}
}

// NewOperatorSpan issues a span for an operator execution and makes it
// the current operator.
func (c *ExecutionContext) NewOperatorSpan(operatorID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	spanID := uuid.NewString()
	c.operatorSpans[operatorID] = spanID
	c.operatorExecCount[operatorID]++
	c.currentOperatorID = operatorID
	return spanID
}

// OperatorParentSpan returns the span an operator record should parent
// to: the workflow span.
func (c *ExecutionContext) OperatorParentSpan() string {
	return c.WorkflowSpanID
}

// NewActionSpan issues a span for an action execution and makes it the
// current action.
func (c *ExecutionContext) NewActionSpan(actionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	spanID := uuid.NewString()
	c.actionSpans[actionID] = spanID
	c.actionExecCount[actionID]++
	c.currentActionID = actionID
	return spanID
}

// ActionParentSpan returns the current operator's span, or empty when no
// operator is in flight.
func (c *ExecutionContext) ActionParentSpan() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentOperatorID == "" {
		return ""
	}
	return c.operatorSpans[c.currentOperatorID]
}

// OperatorExecCount returns how many times the operator has run in this
// context.
func (c *ExecutionContext) OperatorExecCount(operatorID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operatorExecCount[operatorID]
}

// AddTokens accumulates token usage for the run.
func (c *ExecutionContext) AddTokens(input, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalInputTokens += input
	c.totalOutputTokens += output
}

// AddLatency accumulates wall-clock latency for the run.
func (c *ExecutionContext) AddLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalLatencyMS += ms
}

// Totals returns the aggregated token and latency counters.
func (c *ExecutionContext) Totals() (inputTokens, outputTokens int, latencyMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalInputTokens, c.totalOutputTokens, c.totalLatencyMS
}
