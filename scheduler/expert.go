package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/ledger"
	"github.com/BaSui01/jobflow/review"
	"github.com/BaSui01/jobflow/types"
)

// Expert is a named executor capability bound to one workflow. The
// scheduler depends only on this signature and on the WorkflowMessage
// status contract.
type Expert interface {
	// Name returns the expert's unique name
	Name() string

	// Execute runs the expert's workflow over the given input. The
	// returned message's Status is the scheduler's sole branch signal;
	// a non-nil error is treated as an execution error.
	Execute(ctx context.Context, input *types.ExpertInput) (*types.WorkflowMessage, error)
}

// Registry is the closed set of experts available for assignment.
type Registry struct {
	mu      sync.RWMutex
	experts map[string]Expert
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{experts: make(map[string]Expert)}
}

// Register adds an expert, replacing any previous expert of the same name.
func (r *Registry) Register(e Expert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts[e.Name()] = e
}

// Get looks up an expert by name.
func (r *Registry) Get(name string) (Expert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experts[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrExpertNotFound, "expert %q is not registered", name)
	}
	return e, nil
}

// Names returns all registered expert names in deterministic order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.experts))
	for name := range r.experts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operator is one step of an expert's workflow.
type Operator interface {
	// ID identifies the operator across executions
	ID() string

	// Name is the operator's human-readable name
	Name() string

	// Run executes the step. The string result becomes the input of the
	// next operator and, for the last operator, the workflow payload.
	Run(ctx context.Context, oc *OperatorContext) (string, error)
}

// OperatorContext is what an operator sees while running: its input and
// a recorder for the model/tool invocations it performs.
type OperatorContext struct {
	input    string
	lesson   string
	execCtx  *ledger.ExecutionContext
	ledger   ledger.Ledger
	opID     string
	recorded []string
}

// Input returns the operator's input text: the previous operator's
// output, or the expert input payload for the first operator.
func (oc *OperatorContext) Input() string { return oc.input }

// Lesson returns corrective feedback attached to this run, if any.
func (oc *OperatorContext) Lesson() string { return oc.lesson }

// RecordAction logs one model or tool invocation under the current
// operator span and returns the record id.
func (oc *OperatorContext) RecordAction(actionID, actionType, instruction, modelName, rawOutput, actionErr string, inputTokens, outputTokens int, latencyMS float64) (string, error) {
	record := ledger.NewActionExecutionRecord()
	record.ActionID = actionID
	record.OperatorID = oc.opID
	record.WorkflowVersionID = oc.execCtx.WorkflowVersionID
	record.ExpertName = oc.execCtx.ExpertName
	record.ActionType = actionType
	record.Instruction = instruction
	record.ModelName = modelName
	record.RawOutput = rawOutput
	record.Error = actionErr
	record.InputTokens = inputTokens
	record.OutputTokens = outputTokens
	record.TotalTokens = inputTokens + outputTokens
	record.LatencyMS = latencyMS
	record.TraceID = oc.execCtx.TraceID
	record.SpanID = oc.execCtx.NewActionSpan(actionID)
	record.ParentSpanID = oc.execCtx.ActionParentSpan()
	if err := oc.ledger.LogAction(record); err != nil {
		return "", err
	}
	oc.execCtx.AddTokens(inputTokens, outputTokens)
	oc.execCtx.AddLatency(latencyMS)
	oc.recorded = append(oc.recorded, record.RecordID)
	return record.RecordID, nil
}

// WorkflowExpert executes a fixed chain of operators, records full
// provenance into the ledger, and optionally pauses after each operator
// for asynchronous review.
type WorkflowExpert struct {
	name      string
	operators []Operator
	ledger    ledger.Ledger
	pool      *review.Pool
	gate      *review.ContinueGate
	logger    *zap.Logger
}

// WorkflowExpertOption configures a WorkflowExpert.
type WorkflowExpertOption func(*WorkflowExpert)

// WithReview makes the expert submit each operator's output for review
// and block on the continuation gate until the reviewer lets it pass.
func WithReview(pool *review.Pool, gate *review.ContinueGate) WorkflowExpertOption {
	return func(e *WorkflowExpert) {
		e.pool = pool
		e.gate = gate
	}
}

// NewWorkflowExpert creates an expert from an ordered operator chain.
func NewWorkflowExpert(name string, operators []Operator, l ledger.Ledger, logger *zap.Logger, opts ...WorkflowExpertOption) *WorkflowExpert {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &WorkflowExpert{
		name:      name,
		operators: operators,
		ledger:    l,
		logger:    logger.With(zap.String("expert", name)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the expert's name.
func (e *WorkflowExpert) Name() string { return e.name }

// Execute runs the operator chain. The execution context created here
// is owned by this run and destroyed when it returns; every operator
// and action span is recorded before the workflow record closes the run.
func (e *WorkflowExpert) Execute(ctx context.Context, input *types.ExpertInput) (*types.WorkflowMessage, error) {
	workflowVersionID := uuid.NewString()
	execCtx := ledger.NewExecutionContext(workflowVersionID, e.name)
	start := time.Now()

	current := input.CombinedPayload()
	status := types.WorkflowSuccess
	lesson := ""
	var opRecordIDs []string

	for _, op := range e.operators {
		opStart := time.Now()
		spanID := execCtx.NewOperatorSpan(op.ID())
		oc := &OperatorContext{
			input:   current,
			lesson:  input.Lesson,
			execCtx: execCtx,
			ledger:  e.ledger,
			opID:    op.ID(),
		}
		output, err := op.Run(ctx, oc)

		opRecord := ledger.NewOperatorExecutionRecord()
		opRecord.OperatorID = op.ID()
		opRecord.OperatorName = op.Name()
		opRecord.WorkflowVersionID = workflowVersionID
		opRecord.ExpertName = e.name
		opRecord.Lesson = input.Lesson
		opRecord.Output = output
		opRecord.ActionRecordIDs = oc.recorded
		opRecord.LatencyMS = float64(time.Since(opStart).Milliseconds())
		opRecord.TraceID = execCtx.TraceID
		opRecord.SpanID = spanID
		opRecord.ParentSpanID = execCtx.OperatorParentSpan()
		if err != nil {
			opRecord.Evaluation = err.Error()
		}
		if logErr := e.ledger.LogOperator(opRecord); logErr != nil {
			e.logger.Warn("failed to record operator execution", zap.Error(logErr))
		} else {
			opRecordIDs = append(opRecordIDs, opRecord.RecordID)
		}

		if err != nil {
			status = classifyOperatorError(err)
			lesson = err.Error()
			break
		}
		current = output

		if e.pool != nil {
			e.requestReview(input.JobID, op, output)
			if e.gate != nil {
				e.gate.WaitForContinue()
			}
		}
	}

	wf := &ledger.WorkflowExecutionRecord{
		WorkflowVersionID: workflowVersionID,
		ExpertName:        e.name,
		JobID:             input.JobID,
		Timestamp:         time.Now(),
		Status:            string(status),
		OperatorRecordIDs: opRecordIDs,
		TraceID:           execCtx.TraceID,
		SpanID:            execCtx.WorkflowSpanID,
	}
	if err := e.ledger.LogWorkflow(wf); err != nil {
		e.logger.Warn("failed to record workflow execution", zap.Error(err))
	}

	inTok, outTok, _ := execCtx.Totals()
	msg := types.NewWorkflowMessage(input.JobID, status, current)
	msg.Lesson = lesson
	msg.InputTokens = inTok
	msg.OutputTokens = outTok
	msg.LatencyMS = float64(time.Since(start).Milliseconds())
	return msg, nil
}

func (e *WorkflowExpert) requestReview(jobID string, op Operator, output string) {
	submitted := e.pool.Submit(&review.Request{
		JobID:        jobID,
		ExpertName:   e.name,
		OperatorID:   op.ID(),
		OperatorName: op.Name(),
		Output:       output,
		Status:       string(types.WorkflowSuccess),
	})
	if !submitted {
		e.logger.Warn("review request dropped",
			zap.String("job_id", jobID),
			zap.String("operator_id", op.ID()),
		)
		// Nothing will open the gate for a dropped request.
		if e.gate != nil {
			e.gate.AllowContinue()
		}
	}
}

// classifyOperatorError maps an operator failure to the workflow status
// the scheduler branches on.
func classifyOperatorError(err error) types.WorkflowStatus {
	switch types.GetErrorCode(err) {
	case types.ErrInputData:
		return types.WorkflowInputDataError
	case types.ErrComplexityOverflow:
		return types.WorkflowJobTooComplicated
	default:
		return types.WorkflowExecutionError
	}
}

// OperatorFunc adapts a plain function into an Operator.
type OperatorFunc struct {
	OpID   string
	OpName string
	Fn     func(ctx context.Context, oc *OperatorContext) (string, error)
}

func (o OperatorFunc) ID() string   { return o.OpID }
func (o OperatorFunc) Name() string { return o.OpName }
func (o OperatorFunc) Run(ctx context.Context, oc *OperatorContext) (string, error) {
	return o.Fn(ctx, oc)
}
