package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/jobflow/types"
)

// actionRow is the database projection of an ActionExecutionRecord.
type actionRow struct {
	RecordID          string `gorm:"primaryKey;column:record_id"`
	ActionID          string `gorm:"column:action_id;index"`
	OperatorID        string `gorm:"column:operator_id;index"`
	WorkflowVersionID string `gorm:"column:workflow_version_id;index"`
	ExpertName        string `gorm:"column:expert_name"`
	Timestamp         time.Time
	ActionType        string `gorm:"column:action_type"`
	Instruction       string
	ModelName         string `gorm:"column:model_name;index"`
	RawOutput         string `gorm:"column:raw_output"`
	Error             string
	InputTokens       int      `gorm:"column:input_tokens"`
	OutputTokens      int      `gorm:"column:output_tokens"`
	TotalTokens       int      `gorm:"column:total_tokens"`
	LatencyMS         float64  `gorm:"column:latency_ms"`
	Score             *float64 `gorm:"column:score"`
	Feedback          string
	TraceID           string `gorm:"column:trace_id;index"`
	SpanID            string `gorm:"column:span_id"`
	ParentSpanID      string `gorm:"column:parent_span_id"`
}

func (actionRow) TableName() string { return "action_executions" }

// operatorRow is the database projection of an OperatorExecutionRecord.
type operatorRow struct {
	RecordID          string `gorm:"primaryKey;column:record_id"`
	OperatorID        string `gorm:"column:operator_id;index"`
	OperatorName      string `gorm:"column:operator_name"`
	WorkflowVersionID string `gorm:"column:workflow_version_id;index"`
	ExpertName        string `gorm:"column:expert_name"`
	Timestamp         time.Time
	Lesson            string
	Output            string
	Evaluation        string
	ActionRecordIDs   string  `gorm:"column:action_record_ids"`
	LatencyMS         float64 `gorm:"column:latency_ms"`
	TraceID           string  `gorm:"column:trace_id;index"`
	SpanID            string  `gorm:"column:span_id;index"`
	ParentSpanID      string  `gorm:"column:parent_span_id"`
}

func (operatorRow) TableName() string { return "operator_executions" }

// workflowRow is the database projection of a WorkflowExecutionRecord.
type workflowRow struct {
	WorkflowVersionID string `gorm:"primaryKey;column:workflow_version_id"`
	ExpertName        string `gorm:"column:expert_name"`
	JobID             string `gorm:"column:job_id;index"`
	Timestamp         time.Time
	Status            string
	OperatorRecordIDs string `gorm:"column:operator_record_ids"`
	TraceID           string `gorm:"column:trace_id;index"`
	SpanID            string `gorm:"column:span_id;index"`
}

func (workflowRow) TableName() string { return "workflow_executions" }

// PersistentLedger is the durable variant of the ledger: every logging
// call writes to the in-memory index and to the database, and every
// query is served from the database so the full provenance survives a
// restart.
type PersistentLedger struct {
	cache  *MemoryLedger
	db     *gorm.DB
	logger *zap.Logger
}

// OpenPersistentLedger opens (and migrates) a sqlite-backed ledger at
// the given DSN. Use "file::memory:?cache=shared" for tests.
func OpenPersistentLedger(dsn string, logger *zap.Logger) (*PersistentLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.AutoMigrate(&actionRow{}, &operatorRow{}, &workflowRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return &PersistentLedger{
		cache:  NewMemoryLedger(logger),
		db:     db,
		logger: logger.With(zap.String("component", "persistent_ledger")),
	}, nil
}

// LogAction writes the record to memory and to durable storage.
func (l *PersistentLedger) LogAction(record *ActionExecutionRecord) error {
	if err := l.cache.LogAction(record); err != nil {
		return err
	}
	row := actionRowFrom(record)
	if err := l.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to persist action record: %w", err)
	}
	return nil
}

// LogOperator writes the record to memory and to durable storage, and
// links it into the parent workflow row when that row exists.
func (l *PersistentLedger) LogOperator(record *OperatorExecutionRecord) error {
	if err := l.cache.LogOperator(record); err != nil {
		return err
	}
	row := operatorRowFrom(record)
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to persist operator record: %w", err)
		}
		var wf workflowRow
		err := tx.First(&wf, "workflow_version_id = ?", record.WorkflowVersionID).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		ids := decodeIDs(wf.OperatorRecordIDs)
		ids = append(ids, record.RecordID)
		wf.OperatorRecordIDs = encodeIDs(ids)
		return tx.Save(&wf).Error
	})
}

// LogWorkflow writes the record to memory and to durable storage.
func (l *PersistentLedger) LogWorkflow(record *WorkflowExecutionRecord) error {
	if err := l.cache.LogWorkflow(record); err != nil {
		return err
	}
	row := workflowRowFrom(record)
	if err := l.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to persist workflow record: %w", err)
	}
	return nil
}

// GetActionRecord serves from durable storage.
func (l *PersistentLedger) GetActionRecord(recordID string) (*ActionExecutionRecord, error) {
	var row actionRow
	if err := l.db.First(&row, "record_id = ?", recordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrJobNotFound, "action record %q not found", recordID)
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// GetOperatorRecord serves from durable storage.
func (l *PersistentLedger) GetOperatorRecord(recordID string) (*OperatorExecutionRecord, error) {
	var row operatorRow
	if err := l.db.First(&row, "record_id = ?", recordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrJobNotFound, "operator record %q not found", recordID)
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// GetWorkflowRecord serves from durable storage.
func (l *PersistentLedger) GetWorkflowRecord(workflowVersionID string) (*WorkflowExecutionRecord, error) {
	var row workflowRow
	if err := l.db.First(&row, "workflow_version_id = ?", workflowVersionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrJobNotFound, "workflow record %q not found", workflowVersionID)
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// ActionsByOperator serves from durable storage.
func (l *PersistentLedger) ActionsByOperator(operatorID string) ([]*ActionExecutionRecord, error) {
	var rows []actionRow
	if err := l.db.Find(&rows, "operator_id = ?", operatorID).Error; err != nil {
		return nil, err
	}
	return actionRecords(rows), nil
}

// ActionsByTrace serves from durable storage.
func (l *PersistentLedger) ActionsByTrace(traceID string) ([]*ActionExecutionRecord, error) {
	var rows []actionRow
	if err := l.db.Find(&rows, "trace_id = ?", traceID).Error; err != nil {
		return nil, err
	}
	return actionRecords(rows), nil
}

// OperatorHistory serves from durable storage in timestamp order.
func (l *PersistentLedger) OperatorHistory(operatorID string) ([]*OperatorExecutionRecord, error) {
	var rows []operatorRow
	if err := l.db.Order("timestamp").Find(&rows, "operator_id = ?", operatorID).Error; err != nil {
		return nil, err
	}
	records := make([]*OperatorExecutionRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// WorkflowByTrace serves from durable storage.
func (l *PersistentLedger) WorkflowByTrace(traceID string) (*WorkflowExecutionRecord, error) {
	var row workflowRow
	if err := l.db.First(&row, "trace_id = ?", traceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrJobNotFound, "no workflow for trace %q", traceID)
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// ReconstructChain serves from durable storage.
func (l *PersistentLedger) ReconstructChain(workflowVersionID string) (*Chain, error) {
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

// LocateFromAction serves from durable storage.
func (l *PersistentLedger) LocateFromAction(actionRecordID string) (*Location, error) {
	action, err := l.GetActionRecord(actionRecordID)
	if err != nil {
		return nil, err
	}
	var opRow operatorRow
	err = l.db.First(&opRow, "operator_id = ? AND span_id = ?",
		action.OperatorID, action.ParentSpanID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrJobNotFound,
				"no operator record for action %q (operator %q, parent span %q)",
				actionRecordID, action.OperatorID, action.ParentSpanID)
		}
		return nil, err
	}
	operator := opRow.toRecord()
	workflow, err := l.GetWorkflowRecord(operator.WorkflowVersionID)
	if err != nil {
		return nil, err
	}
	return &Location{Workflow: workflow, Operator: operator, Action: action}, nil
}

// ExportSamples serves from durable storage.
func (l *PersistentLedger) ExportSamples(filter SampleFilter) ([]Sample, error) {
	q := l.db.Model(&actionRow{})
	if filter.ModelName != "" {
		q = q.Where("model_name = ?", filter.ModelName)
	}
	if filter.MinScore != nil {
		q = q.Where("score IS NOT NULL AND score >= ?", *filter.MinScore)
	}
	var rows []actionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, len(rows))
	for i := range rows {
		samples = append(samples, rows[i].toRecord().toSample())
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})
	return samples, nil
}

// Close closes the underlying database connection.
func (l *PersistentLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func actionRowFrom(r *ActionExecutionRecord) actionRow {
	return actionRow{
		RecordID:          r.RecordID,
		ActionID:          r.ActionID,
		OperatorID:        r.OperatorID,
		WorkflowVersionID: r.WorkflowVersionID,
		ExpertName:        r.ExpertName,
		Timestamp:         r.Timestamp,
		ActionType:        r.ActionType,
		Instruction:       r.Instruction,
		ModelName:         r.ModelName,
		RawOutput:         r.RawOutput,
		Error:             r.Error,
		InputTokens:       r.InputTokens,
		OutputTokens:      r.OutputTokens,
		TotalTokens:       r.TotalTokens,
		LatencyMS:         r.LatencyMS,
		Score:             r.Score,
		Feedback:          r.Feedback,
		TraceID:           r.TraceID,
		SpanID:            r.SpanID,
		ParentSpanID:      r.ParentSpanID,
	}
}

func (row actionRow) toRecord() *ActionExecutionRecord {
	return &ActionExecutionRecord{
		RecordID:          row.RecordID,
		ActionID:          row.ActionID,
		OperatorID:        row.OperatorID,
		WorkflowVersionID: row.WorkflowVersionID,
		ExpertName:        row.ExpertName,
		Timestamp:         row.Timestamp,
		ActionType:        row.ActionType,
		Instruction:       row.Instruction,
		ModelName:         row.ModelName,
		RawOutput:         row.RawOutput,
		Error:             row.Error,
		InputTokens:       row.InputTokens,
		OutputTokens:      row.OutputTokens,
		TotalTokens:       row.TotalTokens,
		LatencyMS:         row.LatencyMS,
		Score:             row.Score,
		Feedback:          row.Feedback,
		TraceID:           row.TraceID,
		SpanID:            row.SpanID,
		ParentSpanID:      row.ParentSpanID,
	}
}

func operatorRowFrom(r *OperatorExecutionRecord) operatorRow {
	return operatorRow{
		RecordID:          r.RecordID,
		OperatorID:        r.OperatorID,
		OperatorName:      r.OperatorName,
		WorkflowVersionID: r.WorkflowVersionID,
		ExpertName:        r.ExpertName,
		Timestamp:         r.Timestamp,
		Lesson:            r.Lesson,
		Output:            r.Output,
		Evaluation:        r.Evaluation,
		ActionRecordIDs:   encodeIDs(r.ActionRecordIDs),
		LatencyMS:         r.LatencyMS,
		TraceID:           r.TraceID,
		SpanID:            r.SpanID,
		ParentSpanID:      r.ParentSpanID,
	}
}

func (row operatorRow) toRecord() *OperatorExecutionRecord {
	return &OperatorExecutionRecord{
		RecordID:          row.RecordID,
		OperatorID:        row.OperatorID,
		OperatorName:      row.OperatorName,
		WorkflowVersionID: row.WorkflowVersionID,
		ExpertName:        row.ExpertName,
		Timestamp:         row.Timestamp,
		Lesson:            row.Lesson,
		Output:            row.Output,
		Evaluation:        row.Evaluation,
		ActionRecordIDs:   decodeIDs(row.ActionRecordIDs),
		LatencyMS:         row.LatencyMS,
		TraceID:           row.TraceID,
		SpanID:            row.SpanID,
		ParentSpanID:      row.ParentSpanID,
	}
}

func workflowRowFrom(r *WorkflowExecutionRecord) workflowRow {
	return workflowRow{
		WorkflowVersionID: r.WorkflowVersionID,
		ExpertName:        r.ExpertName,
		JobID:             r.JobID,
		Timestamp:         r.Timestamp,
		Status:            r.Status,
		OperatorRecordIDs: encodeIDs(r.OperatorRecordIDs),
		TraceID:           r.TraceID,
		SpanID:            r.SpanID,
	}
}

func (row workflowRow) toRecord() *WorkflowExecutionRecord {
	return &WorkflowExecutionRecord{
		WorkflowVersionID: row.WorkflowVersionID,
		ExpertName:        row.ExpertName,
		JobID:             row.JobID,
		Timestamp:         row.Timestamp,
		Status:            row.Status,
		OperatorRecordIDs: decodeIDs(row.OperatorRecordIDs),
		TraceID:           row.TraceID,
		SpanID:            row.SpanID,
	}
}

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

func decodeIDs(data string) []string {
	if data == "" {
		return nil
	}
	var ids []string
	_ = json.Unmarshal([]byte(data), &ids)
	return ids
}

func actionRecords(rows []actionRow) []*ActionExecutionRecord {
	records := make([]*ActionExecutionRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records
}
