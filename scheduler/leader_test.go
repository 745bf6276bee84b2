package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/jobflow/graph"
	"github.com/BaSui01/jobflow/store"
	"github.com/BaSui01/jobflow/types"
)

type expertRun struct {
	jobID  string
	goal   string
	lesson string
	inputs []*types.WorkflowMessage
}

// scriptedExpert records every invocation and delegates the outcome to a
// per-test behaviour function keyed on the sub-job it was asked to run.
type scriptedExpert struct {
	name   string
	jobs   store.JobStore
	behave func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error)

	mu   sync.Mutex
	runs []expertRun
}

func (e *scriptedExpert) Name() string { return e.name }

func (e *scriptedExpert) Execute(ctx context.Context, input *types.ExpertInput) (*types.WorkflowMessage, error) {
	sub, err := e.jobs.GetSubJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.runs = append(e.runs, expertRun{
		jobID:  input.JobID,
		goal:   sub.Goal,
		lesson: input.Lesson,
		inputs: append([]*types.WorkflowMessage(nil), input.PredecessorOutputs...),
	})
	e.mu.Unlock()
	return e.behave(sub, input)
}

func (e *scriptedExpert) history() []expertRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]expertRun(nil), e.runs...)
}

func (e *scriptedExpert) goals() []string {
	history := e.history()
	goals := make([]string, 0, len(history))
	for _, run := range history {
		goals = append(goals, run.goal)
	}
	return goals
}

// succeed is the default behaviour: every sub-job finishes with
// "<goal> done".
func succeed(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
	return types.NewWorkflowMessage(input.JobID, types.WorkflowSuccess, sub.Goal+" done"), nil
}

type leaderHarness struct {
	leader   *Leader
	jobs     *store.MemoryJobStore
	messages *store.MemoryMessageStore
	expert   *scriptedExpert
}

func newLeaderHarness(t *testing.T, dec Decomposer, lifeCycle int) *leaderHarness {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	messages := store.NewMemoryMessageStore()
	expert := &scriptedExpert{name: "solo", jobs: jobs, behave: succeed}

	registry := NewRegistry()
	registry.Register(expert)

	leader, err := NewLeader(Options{
		JobStore:         jobs,
		MessageStore:     messages,
		Experts:          registry,
		Decomposer:       dec,
		DefaultLifeCycle: lifeCycle,
	})
	require.NoError(t, err)
	t.Cleanup(leader.Close)

	return &leaderHarness{leader: leader, jobs: jobs, messages: messages, expert: expert}
}

func (h *leaderHarness) newRootJob(t *testing.T, goal string) *types.Job {
	t.Helper()
	job := types.NewJob("session-1", goal, "")
	require.NoError(t, h.jobs.SaveJob(context.Background(), job))
	return job
}

func (h *leaderHarness) rootResult(t *testing.T, jobID string) *types.JobResult {
	t.Helper()
	result, err := h.jobs.GetJobResult(context.Background(), jobID)
	require.NoError(t, err)
	return result
}

// chainSpecs builds a three-unit dependency chain alpha -> beta -> gamma.
func chainSpecs() map[string]SubJobSpec {
	return map[string]SubJobSpec{
		"t1": {Goal: "alpha", AssignedExpert: "solo"},
		"t2": {Goal: "beta", AssignedExpert: "solo", Dependencies: []string{"t1"}},
		"t3": {Goal: "gamma", AssignedExpert: "solo", Dependencies: []string{"t2"}},
	}
}

func staticDecomposer(specs map[string]SubJobSpec) Decomposer {
	return DecomposerFunc(func(ctx context.Context, goal, jobContext string, experts []string) (map[string]SubJobSpec, error) {
		return specs, nil
	})
}

func TestExecuteOriginalJob_RunsChainInDependencyOrder(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(chainSpecs()), 3)
	job := h.newRootJob(t, "write a report")

	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, h.expert.goals())

	// Each unit sees its predecessor's payload.
	history := h.expert.history()
	require.Len(t, history[1].inputs, 1)
	assert.Equal(t, "alpha done", history[1].inputs[0].Payload)
	require.Len(t, history[2].inputs, 1)
	assert.Equal(t, "beta done", history[2].inputs[0].Payload)

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFinished, root.Status)
	assert.Equal(t, "gamma done", root.Payload)
}

func TestExecuteOriginalJob_PreAssignedExpertSkipsDecomposition(t *testing.T) {
	decomposed := false
	dec := DecomposerFunc(func(ctx context.Context, goal, jobContext string, experts []string) (map[string]SubJobSpec, error) {
		decomposed = true
		return nil, errors.New("should not be called")
	})
	h := newLeaderHarness(t, dec, 3)

	job := types.NewJob("session-1", "quick question", "")
	job.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveJob(context.Background(), job))

	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	assert.False(t, decomposed)
	assert.Equal(t, []string{"quick question"}, h.expert.goals())
	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFinished, root.Status)
	assert.Equal(t, "quick question done", root.Payload)
}

func TestInputDataError_RollsBackPredecessorsWithLesson(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(chainSpecs()), 3)

	var mu sync.Mutex
	betaAttempts := 0
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		if sub.Goal == "beta" {
			mu.Lock()
			betaAttempts++
			first := betaAttempts == 1
			mu.Unlock()
			if first {
				msg := types.NewWorkflowMessage(input.JobID, types.WorkflowInputDataError, "")
				msg.Lesson = "upstream payload malformed"
				return msg, nil
			}
		}
		return succeed(sub, input)
	}

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	// The producer re-runs with the consumer's lesson before the
	// consumer retries; the downstream unit runs exactly once, last.
	assert.Equal(t, []string{"alpha", "beta", "alpha", "beta", "gamma"}, h.expert.goals())

	history := h.expert.history()
	assert.Empty(t, history[0].lesson)
	assert.Equal(t, "upstream payload malformed", history[2].lesson)
	assert.Empty(t, history[3].lesson)

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFinished, root.Status)
}

func TestInputDataError_NoPredecessorsKeepsLessonOnSelf(t *testing.T) {
	specs := map[string]SubJobSpec{"t1": {Goal: "alpha", AssignedExpert: "solo"}}
	h := newLeaderHarness(t, staticDecomposer(specs), 3)

	attempts := 0
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		attempts++
		if attempts == 1 {
			msg := types.NewWorkflowMessage(input.JobID, types.WorkflowInputDataError, "")
			msg.Lesson = "cannot parse the request"
			return msg, nil
		}
		return succeed(sub, input)
	}

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	history := h.expert.history()
	require.Len(t, history, 2)
	assert.Equal(t, "cannot parse the request", history[1].lesson)
	assert.Equal(t, types.JobStatusFinished, h.rootResult(t, job.ID).Status)
}

func TestComplexityOverflow_ExhaustedBudgetFailsRun(t *testing.T) {
	specs := map[string]SubJobSpec{"t1": {Goal: "impossible", AssignedExpert: "solo"}}
	h := newLeaderHarness(t, staticDecomposer(specs), 1)
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		return types.NewWorkflowMessage(input.JobID, types.WorkflowJobTooComplicated, ""), nil
	}

	job := h.newRootJob(t, "solve everything")
	err := h.leader.ExecuteOriginalJob(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrComplexityOverflow, types.GetErrorCode(err))

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFailed, root.Status)
	assert.Contains(t, root.Payload, "re-decomposition budget")
}

func TestReplan_SplicesReplacementSubgraphIntoLiveRun(t *testing.T) {
	calls := 0
	var contexts []string
	dec := DecomposerFunc(func(ctx context.Context, goal, jobContext string, experts []string) (map[string]SubJobSpec, error) {
		calls++
		contexts = append(contexts, jobContext)
		if calls == 1 {
			return map[string]SubJobSpec{"t1": {Goal: "big", AssignedExpert: "solo"}}, nil
		}
		return map[string]SubJobSpec{
			"s1": {Goal: "part-1", AssignedExpert: "solo"},
			"s2": {Goal: "part-2", AssignedExpert: "solo", Dependencies: []string{"s1"}},
		}, nil
	})

	h := newLeaderHarness(t, dec, 2)
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		if sub.Goal == "big" {
			msg := types.NewWorkflowMessage(input.JobID, types.WorkflowJobTooComplicated, "")
			msg.Lesson = "needs splitting"
			return msg, nil
		}
		return succeed(sub, input)
	}

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	assert.Equal(t, []string{"big", "part-1", "part-2"}, h.expert.goals())
	assert.Equal(t, 2, calls)
	assert.Contains(t, contexts[1], "needs splitting")

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFinished, root.Status)
	assert.Equal(t, "part-2 done", root.Payload)

	// The replaced unit stays on record, flagged legacy, with the
	// replacements carrying the decremented budget.
	subs, err := h.jobs.GetSubJobs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for _, sub := range subs {
		if sub.Goal == "big" {
			assert.True(t, sub.IsLegacy)
		} else {
			assert.False(t, sub.IsLegacy)
			assert.Equal(t, 1, sub.LifeCycle)
		}
	}
}

func TestExecutionError_FailsRunAndSkipsSuccessors(t *testing.T) {
	specs := map[string]SubJobSpec{
		"t1": {Goal: "alpha", AssignedExpert: "solo"},
		"t2": {Goal: "beta", AssignedExpert: "solo", Dependencies: []string{"t1"}},
	}
	h := newLeaderHarness(t, staticDecomposer(specs), 3)
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		return nil, errors.New("model unavailable")
	}

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	assert.Equal(t, []string{"alpha"}, h.expert.goals())

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFailed, root.Status)
	assert.Contains(t, root.Payload, "model unavailable")

	msg, err := h.messages.GetSystemMessage(context.Background(), job.ID, types.MessageRoleSystem)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "model unavailable")
}

func TestExpertPanic_IsContainedAsExecutionError(t *testing.T) {
	specs := map[string]SubJobSpec{"t1": {Goal: "alpha", AssignedExpert: "solo"}}
	h := newLeaderHarness(t, staticDecomposer(specs), 3)
	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		panic("expert blew up")
	}

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.leader.ExecuteOriginalJob(context.Background(), job.ID))

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFailed, root.Status)
	assert.Contains(t, root.Payload, "expert blew up")
}

func TestStopJobGraph_FlipsOnlyRunningSubJobs(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(chainSpecs()), 3)
	ctx := context.Background()
	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: job.ID, Status: types.JobStatusRunning}))

	finished := types.NewSubJob(job.ID, job.SessionID)
	finished.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, finished))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: finished.ID, Status: types.JobStatusRunning}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: finished.ID, Status: types.JobStatusFinished, Payload: "kept"}))

	running := types.NewSubJob(job.ID, job.SessionID)
	running.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, running))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: running.ID, Status: types.JobStatusRunning}))

	require.NoError(t, h.leader.StopJobGraph(ctx, job.ID, "paused by operator"))

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusStopped, root.Status)
	assert.Equal(t, "paused by operator", root.Payload)

	keptResult, err := h.jobs.GetJobResult(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, keptResult.Status)
	assert.Equal(t, "kept", keptResult.Payload)

	stoppedResult, err := h.jobs.GetJobResult(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusStopped, stoppedResult.Status)

	// A second stop on an already terminal root is a no-op.
	require.NoError(t, h.leader.StopJobGraph(ctx, job.ID, "again"))
	assert.Equal(t, "paused by operator", h.rootResult(t, job.ID).Payload)
}

func TestRecover_WithoutSubJobsRestartsDecomposition(t *testing.T) {
	specs := map[string]SubJobSpec{"t1": {Goal: "alpha", AssignedExpert: "solo"}}
	h := newLeaderHarness(t, staticDecomposer(specs), 3)
	ctx := context.Background()

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: job.ID, Status: types.JobStatusStopped}))

	require.NoError(t, h.leader.Recover(ctx, job.ID))

	assert.Equal(t, []string{"alpha"}, h.expert.goals())
	assert.Equal(t, types.JobStatusFinished, h.rootResult(t, job.ID).Status)
}

func TestRecover_ResumesStoppedSubJobsWithoutRerunningFinished(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	ctx := context.Background()
	job := h.newRootJob(t, "write a report")

	first := types.NewSubJob(job.ID, job.SessionID)
	first.Goal = "first"
	first.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, first))

	second := types.NewSubJob(job.ID, job.SessionID)
	second.Goal = "second"
	second.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, second))

	g := graph.NewJobGraph()
	g.AddVertex(first.ID)
	g.AddVertex(second.ID)
	require.NoError(t, g.AddEdge(first.ID, second.ID))
	require.NoError(t, h.jobs.ReplaceSubgraph(ctx, job.ID, g, nil))

	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: first.ID, Status: types.JobStatusRunning}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: first.ID, Status: types.JobStatusFinished, Payload: "one"}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: second.ID, Status: types.JobStatusRunning}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: second.ID, Status: types.JobStatusStopped}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: job.ID, Status: types.JobStatusRunning}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: job.ID, Status: types.JobStatusStopped}))

	h.expert.behave = func(sub *types.SubJob, input *types.ExpertInput) (*types.WorkflowMessage, error) {
		return types.NewWorkflowMessage(input.JobID, types.WorkflowSuccess, "two"), nil
	}

	require.NoError(t, h.leader.Recover(ctx, job.ID))

	// Only the stopped unit re-ran, seeded with the finished
	// predecessor's payload.
	history := h.expert.history()
	require.Len(t, history, 1)
	assert.Equal(t, second.ID, history[0].jobID)
	require.Len(t, history[0].inputs, 1)
	assert.Equal(t, "one", history[0].inputs[0].Payload)

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFinished, root.Status)
	assert.Equal(t, "two", root.Payload)
}

func TestRecover_RejectsNonStoppedRoot(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	job := h.newRootJob(t, "write a report")

	err := h.leader.Recover(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestDecompose_RetriesOnceWithCorrectiveLesson(t *testing.T) {
	calls := 0
	var contexts []string
	dec := DecomposerFunc(func(ctx context.Context, goal, jobContext string, experts []string) (map[string]SubJobSpec, error) {
		calls++
		contexts = append(contexts, jobContext)
		if calls == 1 {
			return map[string]SubJobSpec{"t1": {Goal: "alpha", AssignedExpert: "ghost"}}, nil
		}
		return map[string]SubJobSpec{"t1": {Goal: "alpha", AssignedExpert: "solo"}}, nil
	})
	h := newLeaderHarness(t, dec, 3)
	job := h.newRootJob(t, "write a report")

	g, err := h.leader.Decompose(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, g.VertexCount())
	require.Equal(t, 2, calls)
	assert.Contains(t, contexts[1], "previous decomposition attempt was rejected")
	assert.Contains(t, contexts[1], "ghost")
}

func TestDecompose_RepeatedFailureFailsJobGraph(t *testing.T) {
	dec := DecomposerFunc(func(ctx context.Context, goal, jobContext string, experts []string) (map[string]SubJobSpec, error) {
		return nil, fmt.Errorf("planner offline")
	})
	h := newLeaderHarness(t, dec, 3)
	job := h.newRootJob(t, "write a report")

	err := h.leader.ExecuteOriginalJob(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFailed, root.Status)
	assert.Contains(t, root.Payload, "decomposition failed twice")
}

func TestDecompose_CyclicDependenciesAreStructural(t *testing.T) {
	dec := staticDecomposer(map[string]SubJobSpec{
		"t1": {Goal: "alpha", AssignedExpert: "solo", Dependencies: []string{"t2"}},
		"t2": {Goal: "beta", AssignedExpert: "solo", Dependencies: []string{"t1"}},
	})
	h := newLeaderHarness(t, dec, 3)
	job := h.newRootJob(t, "write a report")

	err := h.leader.ExecuteOriginalJob(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrStructural, types.GetErrorCode(err))
	assert.Equal(t, types.JobStatusFailed, h.rootResult(t, job.ID).Status)
}

func TestNewLeader_RequiresCollaborators(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	messages := store.NewMemoryMessageStore()
	registry := NewRegistry()
	dec := staticDecomposer(nil)

	_, err := NewLeader(Options{MessageStore: messages, Experts: registry, Decomposer: dec})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = NewLeader(Options{JobStore: jobs, Experts: registry, Decomposer: dec})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = NewLeader(Options{JobStore: jobs, MessageStore: messages, Decomposer: dec})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = NewLeader(Options{JobStore: jobs, MessageStore: messages, Experts: registry})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}
