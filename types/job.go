package types

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle status of a job or sub-job.
type JobStatus string

const (
	// JobStatusCreated indicates the job exists but has not started.
	JobStatusCreated JobStatus = "created"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusFinished indicates the job completed successfully.
	JobStatusFinished JobStatus = "finished"
	// JobStatusFailed indicates the job terminated with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusStopped indicates the job was halted by an external request.
	JobStatusStopped JobStatus = "stopped"
)

// IsTerminal returns true if the status is a terminal state.
// STOPPED is terminal but recoverable; FINISHED and FAILED are final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. The only path out of a terminal state is
// STOPPED back to CREATED or RUNNING during recovery.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusCreated:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusStopped
	case JobStatusRunning:
		return next == JobStatusFinished || next == JobStatusFailed || next == JobStatusStopped
	case JobStatusStopped:
		return next == JobStatusCreated || next == JobStatusRunning
	default:
		return false
	}
}

// Job is a root unit of goal-directed work submitted to the scheduler.
type Job struct {
	// ID is the unique identifier for the job
	ID string `json:"id"`

	// SessionID is the session this job belongs to
	SessionID string `json:"session_id,omitempty"`

	// Goal is the natural-language goal text
	Goal string `json:"goal"`

	// Context carries free-form context for the goal
	Context string `json:"context,omitempty"`

	// AssignedExpertName optionally pins the job to a single expert,
	// short-circuiting decomposition
	AssignedExpertName string `json:"assigned_expert_name,omitempty"`

	// CreatedAt is when the job was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJob creates a job with a fresh id.
func NewJob(sessionID, goal, context string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Goal:      goal,
		Context:   context,
		CreatedAt: time.Now(),
	}
}

// SubJob is one unit of a decomposed root job.
type SubJob struct {
	// ID is the unique identifier for the sub-job
	ID string `json:"id"`

	// OriginalJobID links the sub-job to its root job
	OriginalJobID string `json:"original_job_id"`

	// SessionID is inherited from the root job
	SessionID string `json:"session_id,omitempty"`

	// Goal is the decomposed goal for this unit
	Goal string `json:"goal"`

	// Context carries the decomposed context plus completion criteria
	Context string `json:"context,omitempty"`

	// Thinking is the decomposer's reasoning for this unit
	Thinking string `json:"thinking,omitempty"`

	// AssignedExpertName names the executor bound to this unit
	AssignedExpertName string `json:"assigned_expert_name"`

	// LifeCycle is the remaining re-decomposition budget. Decremented on
	// each complexity split; reaching zero is fatal for the run.
	LifeCycle int `json:"life_cycle"`

	// IsLegacy marks a sub-job superseded by replanning
	IsLegacy bool `json:"is_legacy,omitempty"`

	// CreatedAt is when the sub-job was created
	CreatedAt time.Time `json:"created_at"`
}

// NewSubJob creates a sub-job under the given root job.
func NewSubJob(originalJobID, sessionID string) *SubJob {
	return &SubJob{
		ID:            uuid.NewString(),
		OriginalJobID: originalJobID,
		SessionID:     sessionID,
		CreatedAt:     time.Now(),
	}
}

// JobResult tracks the execution status of one job or sub-job.
// There is exactly one JobResult per job id.
type JobResult struct {
	// JobID identifies the job this result belongs to
	JobID string `json:"job_id"`

	// Status is the current lifecycle status
	Status JobStatus `json:"status"`

	// Payload holds the terminal result text, when present
	Payload string `json:"payload,omitempty"`

	// UpdatedAt is when the result last changed
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobResult creates a result in the CREATED state.
func NewJobResult(jobID string) *JobResult {
	return &JobResult{
		JobID:     jobID,
		Status:    JobStatusCreated,
		UpdatedAt: time.Now(),
	}
}

// HasResult returns true once the job reached a terminal state.
func (r *JobResult) HasResult() bool {
	return r.Status.IsTerminal()
}
