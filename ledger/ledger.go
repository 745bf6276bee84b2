package ledger

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/types"
)

// Ledger is the append-only provenance store. Records are immutable
// once logged; logging never overwrites.
type Ledger interface {
	// LogAction records one action execution. The owning operator does
	// not need to be logged yet.
	LogAction(record *ActionExecutionRecord) error

	// LogOperator records one operator execution and, when its workflow
	// is already known, appends the record id to the workflow's list.
	LogOperator(record *OperatorExecutionRecord) error

	// LogWorkflow records one workflow execution
	LogWorkflow(record *WorkflowExecutionRecord) error

	// GetActionRecord, GetOperatorRecord and GetWorkflowRecord are
	// primary-key lookups
	GetActionRecord(recordID string) (*ActionExecutionRecord, error)
	GetOperatorRecord(recordID string) (*OperatorExecutionRecord, error)
	GetWorkflowRecord(workflowVersionID string) (*WorkflowExecutionRecord, error)

	// ActionsByOperator returns all action records under an operator id
	ActionsByOperator(operatorID string) ([]*ActionExecutionRecord, error)

	// ActionsByTrace returns all action records of one trace
	ActionsByTrace(traceID string) ([]*ActionExecutionRecord, error)

	// OperatorHistory returns every execution of an operator id in
	// timestamp order
	OperatorHistory(operatorID string) ([]*OperatorExecutionRecord, error)

	// WorkflowByTrace returns the workflow record of one trace
	WorkflowByTrace(traceID string) (*WorkflowExecutionRecord, error)

	// ReconstructChain returns the full execution tree of one workflow run
	ReconstructChain(workflowVersionID string) (*Chain, error)

	// LocateFromAction walks action -> operator -> workflow
	LocateFromAction(actionRecordID string) (*Location, error)

	// ExportSamples projects matching action records into flat training
	// samples
	ExportSamples(filter SampleFilter) ([]Sample, error)

	// Close releases ledger resources
	Close() error
}

// MemoryLedger is the in-memory implementation of Ledger. Its indices
// are keyed by ids unique per run, so concurrent inserts from
// independent expert runs do not interfere.
type MemoryLedger struct {
	mu sync.RWMutex

	actionByID      map[string]*ActionExecutionRecord
	actionsByAction map[string][]*ActionExecutionRecord
	actionsByOp     map[string][]*ActionExecutionRecord
	actionsByTrace  map[string][]*ActionExecutionRecord

	operatorByID   map[string]*OperatorExecutionRecord
	operatorsByOp  map[string][]*OperatorExecutionRecord
	operatorsByWfv map[string][]*OperatorExecutionRecord

	workflowByVersion map[string]*WorkflowExecutionRecord
	workflowByTrace   map[string]*WorkflowExecutionRecord
	workflowBySpan    map[string]*WorkflowExecutionRecord

	logger *zap.Logger
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(logger *zap.Logger) *MemoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLedger{
		actionByID:        make(map[string]*ActionExecutionRecord),
		actionsByAction:   make(map[string][]*ActionExecutionRecord),
		actionsByOp:       make(map[string][]*ActionExecutionRecord),
		actionsByTrace:    make(map[string][]*ActionExecutionRecord),
		operatorByID:      make(map[string]*OperatorExecutionRecord),
		operatorsByOp:     make(map[string][]*OperatorExecutionRecord),
		operatorsByWfv:    make(map[string][]*OperatorExecutionRecord),
		workflowByVersion: make(map[string]*WorkflowExecutionRecord),
		workflowByTrace:   make(map[string]*WorkflowExecutionRecord),
		workflowBySpan:    make(map[string]*WorkflowExecutionRecord),
		logger:            logger.With(zap.String("component", "ledger")),
	}
}

// LogAction records one action execution.
func (l *MemoryLedger) LogAction(record *ActionExecutionRecord) error {
	if record == nil || record.RecordID == "" {
		return types.NewError(types.ErrValidation, "action record must have a record id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *record
	l.actionByID[cp.RecordID] = &cp
	l.actionsByAction[cp.ActionID] = append(l.actionsByAction[cp.ActionID], &cp)
	l.actionsByOp[cp.OperatorID] = append(l.actionsByOp[cp.OperatorID], &cp)
	l.actionsByTrace[cp.TraceID] = append(l.actionsByTrace[cp.TraceID], &cp)
	return nil
}

// LogOperator records one operator execution, linking it into its
// workflow's record-id list when the workflow is already known.
func (l *MemoryLedger) LogOperator(record *OperatorExecutionRecord) error {
	if record == nil || record.RecordID == "" {
		return types.NewError(types.ErrValidation, "operator record must have a record id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *record
	cp.ActionRecordIDs = append([]string(nil), record.ActionRecordIDs...)
	l.operatorByID[cp.RecordID] = &cp
	l.operatorsByOp[cp.OperatorID] = append(l.operatorsByOp[cp.OperatorID], &cp)
	l.operatorsByWfv[cp.WorkflowVersionID] = append(l.operatorsByWfv[cp.WorkflowVersionID], &cp)
	if wf, ok := l.workflowByVersion[cp.WorkflowVersionID]; ok {
		wf.OperatorRecordIDs = append(wf.OperatorRecordIDs, cp.RecordID)
	}
	return nil
}

// LogWorkflow records one workflow execution.
func (l *MemoryLedger) LogWorkflow(record *WorkflowExecutionRecord) error {
	if record == nil || record.WorkflowVersionID == "" {
		return types.NewError(types.ErrValidation, "workflow record must have a version id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *record
	cp.OperatorRecordIDs = append([]string(nil), record.OperatorRecordIDs...)
	l.workflowByVersion[cp.WorkflowVersionID] = &cp
	l.workflowByTrace[cp.TraceID] = &cp
	l.workflowBySpan[cp.SpanID] = &cp
	return nil
}

// GetActionRecord is a primary-key lookup.
func (l *MemoryLedger) GetActionRecord(recordID string) (*ActionExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.actionByID[recordID]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "action record %q not found", recordID)
	}
	cp := *r
	return &cp, nil
}

// GetOperatorRecord is a primary-key lookup.
func (l *MemoryLedger) GetOperatorRecord(recordID string) (*OperatorExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.operatorByID[recordID]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "operator record %q not found", recordID)
	}
	cp := *r
	return &cp, nil
}

// GetWorkflowRecord is a primary-key lookup.
func (l *MemoryLedger) GetWorkflowRecord(workflowVersionID string) (*WorkflowExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.workflowByVersion[workflowVersionID]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "workflow record %q not found", workflowVersionID)
	}
	cp := *r
	return &cp, nil
}

// ActionsByOperator returns all action records under an operator id.
func (l *MemoryLedger) ActionsByOperator(operatorID string) ([]*ActionExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyActions(l.actionsByOp[operatorID]), nil
}

// ActionsByTrace returns all action records of one trace.
func (l *MemoryLedger) ActionsByTrace(traceID string) ([]*ActionExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyActions(l.actionsByTrace[traceID]), nil
}

// OperatorHistory returns every execution of an operator id in
// timestamp order.
func (l *MemoryLedger) OperatorHistory(operatorID string) ([]*OperatorExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]*OperatorExecutionRecord, 0, len(l.operatorsByOp[operatorID]))
	for _, r := range l.operatorsByOp[operatorID] {
		cp := *r
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// WorkflowByTrace returns the workflow record of one trace.
func (l *MemoryLedger) WorkflowByTrace(traceID string) (*WorkflowExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.workflowByTrace[traceID]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "no workflow for trace %q", traceID)
	}
	cp := *r
	return &cp, nil
}

// ReconstructChain returns the full execution tree of one workflow run.
func (l *MemoryLedger) ReconstructChain(workflowVersionID string) (*Chain, error) {
	wf, err := l.GetWorkflowRecord(workflowVersionID)
	if err != nil {
		return nil, err
	}
	chain := &Chain{Workflow: wf}
	for _, opRecordID := range wf.OperatorRecordIDs {
		op, err := l.GetOperatorRecord(opRecordID)
		if err != nil {
			return nil, err
		}
		oc := &OperatorChain{Operator: op}
		for _, actionRecordID := range op.ActionRecordIDs {
			action, err := l.GetActionRecord(actionRecordID)
			if err != nil {
				return nil, err
			}
			oc.Actions = append(oc.Actions, action)
		}
		chain.Operators = append(chain.Operators, oc)
	}
	return chain, nil
}

// LocateFromAction walks action -> operator -> workflow, matching the
// operator by operator id plus the action's parent span.
func (l *MemoryLedger) LocateFromAction(actionRecordID string) (*Location, error) {
	action, err := l.GetActionRecord(actionRecordID)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	var operator *OperatorExecutionRecord
	for _, op := range l.operatorsByOp[action.OperatorID] {
		if op.SpanID == action.ParentSpanID {
			cp := *op
			operator = &cp
			break
		}
	}
	l.mu.RUnlock()
	if operator == nil {
		return nil, types.NewErrorf(types.ErrJobNotFound,
			"no operator record for action %q (operator %q, parent span %q)",
			actionRecordID, action.OperatorID, action.ParentSpanID)
	}
	workflow, err := l.GetWorkflowRecord(operator.WorkflowVersionID)
	if err != nil {
		return nil, err
	}
	return &Location{Workflow: workflow, Operator: operator, Action: action}, nil
}

// ExportSamples projects matching action records into training samples.
func (l *MemoryLedger) ExportSamples(filter SampleFilter) ([]Sample, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	samples := make([]Sample, 0)
	for _, r := range l.actionByID {
		if filter.matches(r) {
			samples = append(samples, r.toSample())
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})
	return samples, nil
}

// Close is a no-op for the in-memory ledger.
func (l *MemoryLedger) Close() error {
	return nil
}

func copyActions(records []*ActionExecutionRecord) []*ActionExecutionRecord {
	out := make([]*ActionExecutionRecord, 0, len(records))
	for _, r := range records {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
