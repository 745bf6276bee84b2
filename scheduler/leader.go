// Package scheduler provides the orchestration core: the Leader turns a
// goal into a verified DAG of sub-jobs, executes ready vertices
// concurrently, splices replacement subgraphs into the live graph on
// complexity overflow, and reconciles completion into terminal job
// status.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/graph"
	"github.com/BaSui01/jobflow/internal/metrics"
	"github.com/BaSui01/jobflow/internal/pool"
	"github.com/BaSui01/jobflow/store"
	"github.com/BaSui01/jobflow/types"
)

// Options configures a Leader. JobStore, MessageStore, Experts and
// Decomposer are required; the rest default.
type Options struct {
	JobStore     store.JobStore
	MessageStore store.MessageStore
	Experts      *Registry
	Decomposer   Decomposer
	Collector    *metrics.Collector
	Logger       *zap.Logger

	// DefaultLifeCycle is the re-decomposition budget given to every
	// freshly decomposed sub-job
	DefaultLifeCycle int

	// MaxWorkers and QueueSize bound the expert dispatch pool
	MaxWorkers int
	QueueSize  int
}

// Leader is the job-graph scheduler.
type Leader struct {
	jobs       store.JobStore
	messages   store.MessageStore
	experts    *Registry
	decomposer Decomposer
	dispatch   *pool.DispatchPool
	collector  *metrics.Collector
	logger     *zap.Logger

	defaultLifeCycle int
}

// NewLeader creates a scheduler from explicitly injected collaborators.
func NewLeader(opts Options) (*Leader, error) {
	if opts.JobStore == nil {
		return nil, types.NewError(types.ErrValidation, "leader requires a job store")
	}
	if opts.MessageStore == nil {
		return nil, types.NewError(types.ErrValidation, "leader requires a message store")
	}
	if opts.Experts == nil {
		return nil, types.NewError(types.ErrValidation, "leader requires an expert registry")
	}
	if opts.Decomposer == nil {
		return nil, types.NewError(types.ErrValidation, "leader requires a decomposer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lifeCycle := opts.DefaultLifeCycle
	if lifeCycle <= 0 {
		lifeCycle = 3
	}
	return &Leader{
		jobs:       opts.JobStore,
		messages:   opts.MessageStore,
		experts:    opts.Experts,
		decomposer: opts.Decomposer,
		dispatch: pool.New(pool.Config{
			MaxWorkers: opts.MaxWorkers,
			QueueSize:  opts.QueueSize,
		}),
		collector:        opts.Collector,
		logger:           logger.With(zap.String("component", "leader")),
		defaultLifeCycle: lifeCycle,
	}, nil
}

// Close releases the dispatch pool.
func (l *Leader) Close() {
	l.dispatch.Close()
}

// Decompose turns a root job into a persisted set of sub-jobs and the
// dependency graph over them. A job carrying a pre-assigned expert
// short-circuits to a single-vertex graph. Validation failures are
// retried exactly once with a corrective lesson; repeated failure fails
// the job graph and returns an empty graph.
func (l *Leader) Decompose(ctx context.Context, job *types.Job) (*graph.JobGraph, error) {
	if job.AssignedExpertName != "" {
		sub := types.NewSubJob(job.ID, job.SessionID)
		sub.Goal = job.Goal
		sub.Context = job.Context
		sub.AssignedExpertName = job.AssignedExpertName
		sub.LifeCycle = l.defaultLifeCycle
		if err := l.jobs.SaveSubJob(ctx, sub); err != nil {
			return graph.NewJobGraph(), err
		}
		g := graph.NewJobGraph()
		g.AddVertex(sub.ID)
		return g, nil
	}
	return l.decompose(ctx, job.ID, job.SessionID, job.Goal, job.Context, l.defaultLifeCycle)
}

// decompose is the shared decomposition path used for both the root
// goal and the nested replanning of an overloaded sub-job.
func (l *Leader) decompose(ctx context.Context, originalJobID, sessionID, goal, jobContext string, lifeCycle int) (*graph.JobGraph, error) {
	names := l.experts.Names()

	specs, err := l.decomposer.Decompose(ctx, goal, jobContext, names)
	if err == nil {
		err = validateDecomposition(specs, names)
	}
	if err != nil {
		// One bounded retry with the failure as a corrective lesson.
		lesson := fmt.Sprintf("%s\nThe previous decomposition attempt was rejected: %s", jobContext, err.Error())
		l.logger.Warn("decomposition rejected, retrying once",
			zap.String("original_job_id", originalJobID),
			zap.Error(err),
		)
		specs, err = l.decomposer.Decompose(ctx, goal, lesson, names)
		if err == nil {
			err = validateDecomposition(specs, names)
		}
		if err != nil {
			reason := fmt.Sprintf("goal decomposition failed twice: %s", err.Error())
			if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
				l.logger.Error("failed to fail job graph", zap.Error(failErr))
			}
			return graph.NewJobGraph(), types.NewError(types.ErrValidation, reason)
		}
	}

	// Create durable sub-jobs and remap the batch's temporary ids.
	tempIDs := make([]string, 0, len(specs))
	for tempID := range specs {
		tempIDs = append(tempIDs, tempID)
	}
	sort.Strings(tempIDs)

	idMap := make(map[string]string, len(specs))
	g := graph.NewJobGraph()
	for _, tempID := range tempIDs {
		spec := specs[tempID]
		sub := types.NewSubJob(originalJobID, sessionID)
		sub.Goal = spec.Goal
		sub.Context = spec.Context
		if spec.CompletionCriteria != "" {
			sub.Context = strings.TrimSpace(sub.Context + "\nCompletion criteria: " + spec.CompletionCriteria)
		}
		sub.Thinking = spec.Thinking
		sub.AssignedExpertName = spec.AssignedExpert
		sub.LifeCycle = lifeCycle
		if err := l.jobs.SaveSubJob(ctx, sub); err != nil {
			return graph.NewJobGraph(), err
		}
		idMap[tempID] = sub.ID
		g.AddVertex(sub.ID)
	}
	for _, tempID := range tempIDs {
		for _, dep := range specs[tempID].Dependencies {
			if err := g.AddEdge(idMap[dep], idMap[tempID]); err != nil {
				reason := fmt.Sprintf("decomposition produced a cyclic dependency graph: %s", err.Error())
				if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
					l.logger.Error("failed to fail job graph", zap.Error(failErr))
				}
				return graph.NewJobGraph(), types.NewError(types.ErrStructural, reason)
			}
		}
	}
	return g, nil
}

// ExecuteOriginalJob decomposes a root job, persists the resulting
// graph, and drives it to completion.
func (l *Leader) ExecuteOriginalJob(ctx context.Context, originalJobID string) error {
	job, err := l.jobs.GetJob(ctx, originalJobID)
	if err != nil {
		return err
	}
	if err := l.transition(ctx, originalJobID, types.JobStatusRunning, ""); err != nil {
		return err
	}

	g, err := l.Decompose(ctx, job)
	if err != nil {
		return err
	}
	if g.IsEmpty() {
		return types.NewErrorf(types.ErrValidation, "decomposition of job %q produced an empty graph", originalJobID)
	}
	if err := l.jobs.ReplaceSubgraph(ctx, originalJobID, g, nil); err != nil {
		return err
	}
	return l.ExecuteJobGraph(ctx, originalJobID)
}

type runningInfo struct {
	expert string
	start  time.Time
}

type vertexResult struct {
	id     string
	expert string
	start  time.Time
	msg    *types.WorkflowMessage
}

// ExecuteJobGraph drives the persisted graph of a root job to
// completion. Ready vertices dispatch concurrently on the expert pool;
// the coordinating loop wakes on each completion rather than polling.
func (l *Leader) ExecuteJobGraph(ctx context.Context, originalJobID string) error {
	g, err := l.jobs.GetJobGraph(ctx, originalJobID)
	if err != nil {
		return err
	}
	subs, err := l.jobs.GetSubJobs(ctx, originalJobID)
	if err != nil {
		return err
	}

	pending := make(map[string]*types.ExpertInput)
	completed := make(map[string]*types.WorkflowMessage)
	for _, sub := range subs {
		if sub.IsLegacy || !g.HasVertex(sub.ID) {
			continue
		}
		result, err := l.jobs.GetJobResult(ctx, sub.ID)
		if err != nil {
			return err
		}
		switch result.Status {
		case types.JobStatusCreated, types.JobStatusRunning:
			pending[sub.ID] = &types.ExpertInput{JobID: sub.ID}
		case types.JobStatusFinished:
			completed[sub.ID] = types.NewWorkflowMessage(sub.ID, types.WorkflowSuccess, result.Payload)
		}
	}

	running := make(map[string]runningInfo)
	results := make(chan vertexResult)

	for len(pending)+len(running) > 0 {
		// Stop and fail are cooperative: observed here before any
		// further dispatch.
		if rootResult, err := l.jobs.GetJobResult(ctx, originalJobID); err == nil && rootResult.Status.IsTerminal() {
			l.drain(results, running)
			return nil
		}

		for _, id := range sortedIDs(pending) {
			if !l.isReady(g, id, pending, running) {
				continue
			}
			input := pending[id]
			l.buildInput(input, g.Predecessors(id), completed)
			if err := l.dispatchVertex(ctx, id, input, running, results); err != nil {
				l.drain(results, running)
				reason := fmt.Sprintf("cannot dispatch sub-job %q: %s", id, err.Error())
				if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
					l.logger.Error("failed to fail job graph", zap.Error(failErr))
				}
				return err
			}
			delete(pending, id)
		}

		if len(running) == 0 {
			if len(pending) == 0 {
				break
			}
			err := types.NewErrorf(types.ErrStructural,
				"job graph deadlocked with %d sub-jobs pending and none runnable", len(pending))
			if failErr := l.FailJobGraph(ctx, originalJobID, err.Error()); failErr != nil {
				l.logger.Error("failed to fail job graph", zap.Error(failErr))
			}
			return err
		}

		select {
		case res := <-results:
			delete(running, res.id)
			done, err := l.handleCompletion(ctx, originalJobID, &g, res, pending, completed)
			if err != nil {
				l.drain(results, running)
				return err
			}
			if done {
				l.drain(results, running)
				return nil
			}
		case <-ctx.Done():
			l.drain(results, running)
			return ctx.Err()
		}
	}

	return l.reconcile(ctx, originalJobID, g, completed)
}

// isReady reports whether every direct predecessor of the vertex has
// left the pending and running sets.
func (l *Leader) isReady(g *graph.JobGraph, id string, pending map[string]*types.ExpertInput, running map[string]runningInfo) bool {
	for _, pred := range g.Predecessors(id) {
		if _, ok := pending[pred]; ok {
			return false
		}
		if _, ok := running[pred]; ok {
			return false
		}
	}
	return true
}

// buildInput attaches the completed predecessors' messages to a
// vertex's input, preserving any lesson already on it.
func (l *Leader) buildInput(input *types.ExpertInput, preds []string, completed map[string]*types.WorkflowMessage) {
	input.PredecessorOutputs = input.PredecessorOutputs[:0]
	for _, pred := range preds {
		if msg, ok := completed[pred]; ok {
			input.PredecessorOutputs = append(input.PredecessorOutputs, msg)
		}
	}
}

// dispatchVertex hands a ready vertex's expert call to the pool.
func (l *Leader) dispatchVertex(ctx context.Context, id string, input *types.ExpertInput, running map[string]runningInfo, results chan<- vertexResult) error {
	sub, err := l.jobs.GetSubJob(ctx, id)
	if err != nil {
		return err
	}
	expert, err := l.experts.Get(sub.AssignedExpertName)
	if err != nil {
		return err
	}
	if err := l.transition(ctx, id, types.JobStatusRunning, ""); err != nil {
		return err
	}

	info := runningInfo{expert: expert.Name(), start: time.Now()}
	running[id] = info
	if l.collector != nil {
		l.collector.RecordSubJobDispatched(expert.Name())
	}

	task := func(taskCtx context.Context) error {
		results <- vertexResult{
			id:     id,
			expert: expert.Name(),
			start:  info.start,
			msg:    l.executeExpert(taskCtx, expert, input),
		}
		return nil
	}
	if err := l.dispatch.Submit(ctx, task); err != nil {
		l.logger.Warn("dispatch pool rejected task, running unpooled",
			zap.String("sub_job_id", id),
			zap.Error(err),
		)
		go func() { _ = task(ctx) }()
	}
	return nil
}

// executeExpert invokes the expert, converting errors and panics into
// an EXECUTION_ERROR message instead of letting them cross the
// scheduler boundary.
func (l *Leader) executeExpert(ctx context.Context, expert Expert, input *types.ExpertInput) (msg *types.WorkflowMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("expert panicked",
				zap.String("expert", expert.Name()),
				zap.String("sub_job_id", input.JobID),
				zap.Any("panic", r),
			)
			msg = types.NewWorkflowMessage(input.JobID, types.WorkflowExecutionError, "")
			msg.Lesson = fmt.Sprintf("expert panicked: %v", r)
		}
	}()

	m, err := expert.Execute(ctx, input)
	if err != nil {
		msg = types.NewWorkflowMessage(input.JobID, types.WorkflowExecutionError, "")
		msg.Lesson = err.Error()
		return msg
	}
	if m == nil {
		msg = types.NewWorkflowMessage(input.JobID, types.WorkflowExecutionError, "")
		msg.Lesson = "expert returned no message"
		return msg
	}
	return m
}

// handleCompletion branches on the completed vertex's workflow status.
// Complexity overflow takes precedence over any other classification of
// the same vertex. The returned done flag ends graph execution without
// an error (the terminal state is already on the root job).
func (l *Leader) handleCompletion(ctx context.Context, originalJobID string, g **graph.JobGraph, res vertexResult, pending map[string]*types.ExpertInput, completed map[string]*types.WorkflowMessage) (done bool, err error) {
	if l.collector != nil {
		l.collector.RecordSubJobCompleted(string(res.msg.Status), res.expert, time.Since(res.start))
	}

	switch res.msg.Status {
	case types.WorkflowJobTooComplicated:
		return l.replanVertex(ctx, originalJobID, g, res, pending, completed)

	case types.WorkflowInputDataError:
		l.rollbackPredecessors(ctx, *g, res, pending, completed)
		return false, nil

	case types.WorkflowExecutionError:
		completed[res.id] = res.msg
		if err := l.transition(ctx, res.id, types.JobStatusFailed, res.msg.Lesson); err != nil {
			l.logger.Warn("failed to mark sub-job failed", zap.String("sub_job_id", res.id), zap.Error(err))
		}
		reason := fmt.Sprintf("sub-job %q failed during execution: %s", res.id, res.msg.Lesson)
		if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
			return false, failErr
		}
		return true, nil

	default:
		completed[res.id] = res.msg
		result := &types.JobResult{JobID: res.id, Status: types.JobStatusFinished, Payload: res.msg.Payload}
		if err := l.jobs.SaveJobResult(ctx, result); err != nil {
			l.logger.Warn("failed to mark sub-job finished", zap.String("sub_job_id", res.id), zap.Error(err))
		}
		return false, nil
	}
}

// replanVertex treats the vertex as an old subgraph of size one,
// decomposes it into a replacement, and splices that into the live
// graph. The life cycle budget decrements on every split; exhausting it
// is fatal for the whole run.
func (l *Leader) replanVertex(ctx context.Context, originalJobID string, g **graph.JobGraph, res vertexResult, pending map[string]*types.ExpertInput, completed map[string]*types.WorkflowMessage) (bool, error) {
	sub, err := l.jobs.GetSubJob(ctx, res.id)
	if err != nil {
		return false, err
	}

	remaining := sub.LifeCycle - 1
	if remaining <= 0 {
		reason := fmt.Sprintf("sub-job %q exhausted its re-decomposition budget", res.id)
		if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
			return false, failErr
		}
		return false, types.NewError(types.ErrComplexityOverflow, reason)
	}

	jobContext := sub.Context
	if res.msg.Lesson != "" {
		jobContext = strings.TrimSpace(jobContext + "\nThe unit reported it was too complex: " + res.msg.Lesson)
	}
	newSub, err := l.decompose(ctx, originalJobID, sub.SessionID, sub.Goal, jobContext, remaining)
	if err != nil {
		return false, err
	}

	old := graph.NewJobGraph()
	old.AddVertex(res.id)
	if err := l.jobs.ReplaceSubgraph(ctx, originalJobID, newSub, old); err != nil {
		reason := fmt.Sprintf("replacement subgraph for sub-job %q rejected: %s", res.id, err.Error())
		if failErr := l.FailJobGraph(ctx, originalJobID, reason); failErr != nil {
			return false, failErr
		}
		return false, err
	}

	// Refresh the working copy after the structural mutation.
	refreshed, err := l.jobs.GetJobGraph(ctx, originalJobID)
	if err != nil {
		return false, err
	}
	*g = refreshed

	delete(pending, res.id)
	delete(completed, res.id)
	for _, id := range newSub.Vertices() {
		pending[id] = &types.ExpertInput{JobID: id}
	}

	if l.collector != nil {
		l.collector.RecordReplan()
	}
	l.logger.Info("replaced overloaded sub-job with subgraph",
		zap.String("original_job_id", originalJobID),
		zap.String("sub_job_id", res.id),
		zap.Int("replacement_size", newSub.VertexCount()),
		zap.Int("remaining_life_cycle", remaining),
	)
	return false, nil
}

// rollbackPredecessors re-queues the vertex and its direct predecessors
// after a consumer rejected the predecessors' output. The rejected unit
// re-runs with fresh predecessor results; the predecessors re-run with
// the lesson attached.
func (l *Leader) rollbackPredecessors(ctx context.Context, g *graph.JobGraph, res vertexResult, pending map[string]*types.ExpertInput, completed map[string]*types.WorkflowMessage) {
	preds := g.Predecessors(res.id)

	retry := &types.ExpertInput{JobID: res.id}
	if len(preds) == 0 {
		// No predecessors to correct, so the lesson goes to the unit
		// itself.
		retry.AddLesson(res.msg.Lesson)
	}
	pending[res.id] = retry
	if err := l.jobs.ResetJobResult(ctx, res.id); err != nil {
		l.logger.Warn("failed to reset sub-job result", zap.String("sub_job_id", res.id), zap.Error(err))
	}

	for _, pred := range preds {
		delete(completed, pred)
		input := &types.ExpertInput{JobID: pred}
		input.AddLesson(res.msg.Lesson)
		pending[pred] = input
		if err := l.jobs.ResetJobResult(ctx, pred); err != nil {
			l.logger.Warn("failed to reset predecessor result", zap.String("sub_job_id", pred), zap.Error(err))
		}
	}

	if l.collector != nil {
		l.collector.RecordRollback()
	}
	l.logger.Info("rolled back sub-job and predecessors on input data error",
		zap.String("sub_job_id", res.id),
		zap.Strings("predecessors", preds),
	)
}

// reconcile finishes the root job from the exit vertices' results.
func (l *Leader) reconcile(ctx context.Context, originalJobID string, g *graph.JobGraph, completed map[string]*types.WorkflowMessage) error {
	rootResult, err := l.jobs.GetJobResult(ctx, originalJobID)
	if err != nil {
		return err
	}
	if rootResult.Status.IsTerminal() {
		return nil
	}

	parts := make([]string, 0)
	for _, exit := range g.ExitVertices() {
		if msg, ok := completed[exit]; ok && msg.Payload != "" {
			parts = append(parts, msg.Payload)
		}
	}
	result := &types.JobResult{
		JobID:   originalJobID,
		Status:  types.JobStatusFinished,
		Payload: strings.Join(parts, "\n\n"),
	}
	return l.jobs.SaveJobResult(ctx, result)
}

// drain receives the results of every still-running vertex so no pool
// worker stays blocked on the results channel.
func (l *Leader) drain(results <-chan vertexResult, running map[string]runningInfo) {
	for len(running) > 0 {
		res := <-results
		delete(running, res.id)
	}
}

// FailJobGraph marks the root job FAILED, stops its RUNNING sub-jobs,
// and attaches a human-readable explanation. A second call on an
// already-resulted job is a no-op.
func (l *Leader) FailJobGraph(ctx context.Context, originalJobID, reason string) error {
	return l.terminateJobGraph(ctx, originalJobID, types.JobStatusFailed, reason)
}

// StopJobGraph marks the root job STOPPED, stops its RUNNING sub-jobs,
// and attaches a human-readable explanation. Idempotent.
func (l *Leader) StopJobGraph(ctx context.Context, originalJobID, reason string) error {
	return l.terminateJobGraph(ctx, originalJobID, types.JobStatusStopped, reason)
}

func (l *Leader) terminateJobGraph(ctx context.Context, originalJobID string, status types.JobStatus, reason string) error {
	rootResult, err := l.jobs.GetJobResult(ctx, originalJobID)
	if err != nil {
		return err
	}
	if rootResult.HasResult() {
		return nil
	}

	// Flip only currently-RUNNING descendants; terminal ones are
	// untouched.
	subs, err := l.jobs.GetSubJobs(ctx, originalJobID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		result, err := l.jobs.GetJobResult(ctx, sub.ID)
		if err != nil {
			continue
		}
		if result.Status == types.JobStatusRunning {
			stopped := &types.JobResult{JobID: sub.ID, Status: types.JobStatusStopped}
			if err := l.jobs.SaveJobResult(ctx, stopped); err != nil {
				l.logger.Warn("failed to stop sub-job", zap.String("sub_job_id", sub.ID), zap.Error(err))
			}
		}
	}

	if err := l.jobs.SaveJobResult(ctx, &types.JobResult{
		JobID:   originalJobID,
		Status:  status,
		Payload: reason,
	}); err != nil {
		return err
	}

	var sessionID string
	if job, err := l.jobs.GetJob(ctx, originalJobID); err == nil {
		sessionID = job.SessionID
	}
	msg := &types.SystemMessage{
		ID:        uuid.NewString(),
		JobID:     originalJobID,
		SessionID: sessionID,
		Role:      types.MessageRoleSystem,
		Payload:   reason,
	}
	if err := l.messages.UpsertSystemMessage(ctx, msg); err != nil {
		l.logger.Warn("failed to persist termination message",
			zap.String("original_job_id", originalJobID),
			zap.Error(err),
		)
	}

	l.logger.Info("terminated job graph",
		zap.String("original_job_id", originalJobID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	return nil
}

// Recover resumes a STOPPED root job. With no sub-jobs yet the root
// resets to CREATED and restarts full decomposition; otherwise only
// STOPPED sub-jobs reset and graph execution resumes from current
// state, never re-running sub-jobs that already finished.
func (l *Leader) Recover(ctx context.Context, originalJobID string) error {
	rootResult, err := l.jobs.GetJobResult(ctx, originalJobID)
	if err != nil {
		return err
	}
	if rootResult.Status != types.JobStatusStopped {
		return types.NewErrorf(types.ErrInvalidTransition,
			"job %q is %s, only stopped jobs can be recovered", originalJobID, rootResult.Status)
	}

	subs, err := l.jobs.GetSubJobs(ctx, originalJobID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		if err := l.transition(ctx, originalJobID, types.JobStatusCreated, ""); err != nil {
			return err
		}
		return l.ExecuteOriginalJob(ctx, originalJobID)
	}

	for _, sub := range subs {
		result, err := l.jobs.GetJobResult(ctx, sub.ID)
		if err != nil {
			continue
		}
		if result.Status == types.JobStatusStopped {
			if err := l.transition(ctx, sub.ID, types.JobStatusCreated, ""); err != nil {
				return err
			}
		}
	}
	if err := l.transition(ctx, originalJobID, types.JobStatusRunning, ""); err != nil {
		return err
	}
	return l.ExecuteJobGraph(ctx, originalJobID)
}

// transition saves a bare status change for a job or sub-job.
func (l *Leader) transition(ctx context.Context, jobID string, status types.JobStatus, payload string) error {
	return l.jobs.SaveJobResult(ctx, &types.JobResult{JobID: jobID, Status: status, Payload: payload})
}

func sortedIDs(pending map[string]*types.ExpertInput) []string {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
