package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/jobflow/bus"
	"github.com/BaSui01/jobflow/review"
	"github.com/BaSui01/jobflow/types"
)

func TestReviewHandlers_ContinueOpensGate(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	b := bus.NewCommandBus(nil)
	gate := review.NewContinueGate()
	h.leader.RegisterReviewHandlers(b, gate)

	require.NoError(t, b.Submit(types.NewCommand(ActionContinue, "op-1", nil), nil))
	require.NoError(t, b.Dispatch(context.Background()))

	// The gate now holds one continue token.
	gate.WaitForContinue()
}

func TestReviewHandlers_RollbackResetsSubJob(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	ctx := context.Background()
	b := bus.NewCommandBus(nil)
	gate := review.NewContinueGate()
	h.leader.RegisterReviewHandlers(b, gate)

	job := h.newRootJob(t, "write a report")
	sub := types.NewSubJob(job.ID, job.SessionID)
	sub.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, sub))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: sub.ID, Status: types.JobStatusRunning}))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: sub.ID, Status: types.JobStatusFinished, Payload: "stale"}))

	cmd := types.NewCommand(ActionRollback, "op-1", map[string]any{
		"job_id": sub.ID,
		"reason": "output contradicts the source",
	})
	require.NoError(t, b.Submit(cmd, nil))
	require.NoError(t, b.Dispatch(ctx))

	result, err := h.jobs.GetJobResult(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, result.Status)
	assert.Empty(t, result.Payload)

	gate.WaitForContinue()
}

func TestReviewHandlers_RollbackRequiresJobID(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	b := bus.NewCommandBus(nil)
	h.leader.RegisterReviewHandlers(b, review.NewContinueGate())

	require.NoError(t, b.Submit(types.NewCommand(ActionRollback, "op-1", nil), nil))
	// The command fails and eventually dead-letters instead of
	// stopping dispatch.
	require.NoError(t, b.Dispatch(context.Background()))
	assert.Zero(t, b.Pending())
	require.Len(t, b.DeadLetters(), 1)
}

func TestReviewHandlers_FailTerminatesJobGraph(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	ctx := context.Background()
	b := bus.NewCommandBus(nil)
	gate := review.NewContinueGate()
	h.leader.RegisterReviewHandlers(b, gate)

	job := h.newRootJob(t, "write a report")
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: job.ID, Status: types.JobStatusRunning}))
	sub := types.NewSubJob(job.ID, job.SessionID)
	sub.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, sub))

	cmd := types.NewCommand(ActionFail, "op-1", map[string]any{
		"job_id": sub.ID,
		"reason": "fabricated citations",
	})
	require.NoError(t, b.Submit(cmd, nil))
	require.NoError(t, b.Dispatch(ctx))

	root := h.rootResult(t, job.ID)
	assert.Equal(t, types.JobStatusFailed, root.Status)
	assert.Equal(t, "fabricated citations", root.Payload)

	gate.WaitForContinue()
}

func TestReviewPoolToBusRoundTrip(t *testing.T) {
	h := newLeaderHarness(t, staticDecomposer(nil), 3)
	ctx := context.Background()
	b := bus.NewCommandBus(nil)
	gate := review.NewContinueGate()
	h.leader.RegisterReviewHandlers(b, gate)

	job := h.newRootJob(t, "write a report")
	sub := types.NewSubJob(job.ID, job.SessionID)
	sub.AssignedExpertName = "solo"
	require.NoError(t, h.jobs.SaveSubJob(ctx, sub))
	require.NoError(t, h.jobs.SaveJobResult(ctx, &types.JobResult{JobID: sub.ID, Status: types.JobStatusRunning}))

	done := make(chan struct{})
	pool := review.NewPool(review.PoolConfig{Workers: 1, QueueSize: 4},
		func(rctx context.Context, req *review.Request) (*review.Decision, error) {
			return &review.Decision{
				OperatorID: req.OperatorID,
				Action:     ActionRollback,
				Score:      0.2,
				Reason:     "output contradicts the source",
			}, nil
		},
		func(jobID string, decision *review.Decision) {
			review.BusNotifier(b, nil)(jobID, decision)
			close(done)
		},
		nil, nil)
	defer pool.Stop()

	require.True(t, pool.Submit(&review.Request{
		JobID:      sub.ID,
		ExpertName: "solo",
		OperatorID: "op-1",
		Output:     "draft",
	}))
	<-done

	require.NoError(t, b.Dispatch(ctx))

	result, err := h.jobs.GetJobResult(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, result.Status)
}
