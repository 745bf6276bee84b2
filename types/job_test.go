package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusCreated.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusFinished.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusStopped.IsTerminal())
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusCreated, JobStatusRunning, true},
		{JobStatusCreated, JobStatusFailed, true},
		{JobStatusCreated, JobStatusStopped, true},
		{JobStatusCreated, JobStatusFinished, false},
		{JobStatusRunning, JobStatusFinished, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusStopped, true},
		{JobStatusRunning, JobStatusCreated, false},
		// STOPPED is the only terminal state with a way out: recovery.
		{JobStatusStopped, JobStatusCreated, true},
		{JobStatusStopped, JobStatusRunning, true},
		{JobStatusStopped, JobStatusFailed, false},
		{JobStatusFinished, JobStatusRunning, false},
		{JobStatusFinished, JobStatusCreated, false},
		{JobStatusFailed, JobStatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNewJobResult_StartsCreated(t *testing.T) {
	r := NewJobResult("job-1")
	assert.Equal(t, JobStatusCreated, r.Status)
	assert.False(t, r.HasResult())

	r.Status = JobStatusFinished
	assert.True(t, r.HasResult())
}

func TestExpertInput_AddLesson(t *testing.T) {
	in := &ExpertInput{JobID: "j"}
	in.AddLesson("")
	assert.Empty(t, in.Lesson)

	in.AddLesson("first")
	in.AddLesson("second")
	assert.Equal(t, "first\nsecond", in.Lesson)
}

func TestExpertInput_CombinedPayload(t *testing.T) {
	in := &ExpertInput{
		JobID: "j",
		PredecessorOutputs: []*WorkflowMessage{
			NewWorkflowMessage("a", WorkflowSuccess, "alpha"),
			NewWorkflowMessage("b", WorkflowSuccess, ""),
			NewWorkflowMessage("c", WorkflowSuccess, "gamma"),
		},
	}
	assert.Equal(t, "alpha\n\ngamma", in.CombinedPayload())
}

func TestNewCommand_Defaults(t *testing.T) {
	cmd := NewCommand("retry", "op-1", map[string]any{"k": "v"})
	require.NotEmpty(t, cmd.ID)
	assert.Equal(t, "retry", cmd.Action)
	assert.Equal(t, CommandPending, cmd.Status)
	assert.Equal(t, 0, cmd.RetryCount)
	assert.Equal(t, 3, cmd.MaxRetries)
}
