// Package store provides the persistence contracts the scheduler depends
// on: durable access to jobs, sub-jobs, results, the job graph, and the
// system message sink. Implementations must make every single-entity
// operation atomic, and ReplaceSubgraph atomic across the whole swap.
package store

import (
	"context"
	"time"

	"github.com/BaSui01/jobflow/graph"
	"github.com/BaSui01/jobflow/types"
)

// JobStore defines durable access to Job and SubJob records, their
// results, and the per-root-job dependency graph.
type JobStore interface {
	// SaveJob persists a root job (create or update). A CREATED result
	// is initialized for the job if none exists.
	SaveJob(ctx context.Context, job *types.Job) error

	// GetJob retrieves a root job by id
	GetJob(ctx context.Context, id string) (*types.Job, error)

	// SaveSubJob persists a sub-job (create or update). A CREATED result
	// is initialized for the sub-job if none exists.
	SaveSubJob(ctx context.Context, sub *types.SubJob) error

	// GetSubJob retrieves a sub-job by id
	GetSubJob(ctx context.Context, id string) (*types.SubJob, error)

	// GetSubJobs retrieves all sub-jobs belonging to a root job
	GetSubJobs(ctx context.Context, originalJobID string) ([]*types.SubJob, error)

	// RemoveSubJob removes a sub-job record and its graph vertex
	RemoveSubJob(ctx context.Context, originalJobID, subJobID string) error

	// SaveJobResult persists a result. Illegal lifecycle transitions are
	// rejected with an INVALID_TRANSITION error rather than overwriting
	// a terminal state.
	SaveJobResult(ctx context.Context, result *types.JobResult) error

	// GetJobResult retrieves the result for a job or sub-job
	GetJobResult(ctx context.Context, jobID string) (*types.JobResult, error)

	// ResetJobResult discards a job's result and reinitializes it to
	// CREATED, bypassing the transition guard. Used only by the
	// scheduler's rollback path when a consumer rejects a finished
	// predecessor's output.
	ResetJobResult(ctx context.Context, jobID string) error

	// GetJobGraph returns a working copy of the root job's graph. The
	// store owns the authoritative instance; callers never observe a
	// torn read during a concurrent ReplaceSubgraph.
	GetJobGraph(ctx context.Context, originalJobID string) (*graph.JobGraph, error)

	// ReplaceSubgraph atomically swaps the old induced subgraph for
	// newSub in the root job's graph. A nil old merges newSub, which
	// covers initial persistence of a freshly decomposed graph.
	ReplaceSubgraph(ctx context.Context, originalJobID string, newSub, old *graph.JobGraph) error

	// Close releases store resources
	Close() error
}

// MessageStore persists human-readable notifications attached to a root
// job. Upserts are idempotent, keyed by (job id, role).
type MessageStore interface {
	// UpsertSystemMessage creates or overwrites the message for the
	// message's (job id, role) pair
	UpsertSystemMessage(ctx context.Context, msg *types.SystemMessage) error

	// GetSystemMessage retrieves the message for a (job id, role) pair
	GetSystemMessage(ctx context.Context, jobID string, role types.MessageRole) (*types.SystemMessage, error)

	// Close releases store resources
	Close() error
}

// RedisConfig configures the Redis-backed message store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `yaml:"addr" json:"addr"`
	// Password is the optional auth password
	Password string `yaml:"password" json:"password"`
	// DB is the database number
	DB int `yaml:"db" json:"db"`
	// KeyPrefix namespaces all keys written by the store
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	// PoolSize is the connection pool size
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// DialTimeout bounds the initial connection check
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		KeyPrefix:   "jobflow",
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}
