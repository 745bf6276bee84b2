package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/jobflow/graph"
	"github.com/BaSui01/jobflow/types"
)

// MemoryJobStore is an in-memory implementation of JobStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*types.Job
	subJobs map[string]*types.SubJob
	results map[string]*types.JobResult
	graphs  map[string]*graph.JobGraph
	closed  bool
}

// NewMemoryJobStore creates a new in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*types.Job),
		subJobs: make(map[string]*types.SubJob),
		results: make(map[string]*types.JobResult),
		graphs:  make(map[string]*graph.JobGraph),
	}
}

// SaveJob persists a root job, initializing a CREATED result if needed.
func (s *MemoryJobStore) SaveJob(ctx context.Context, job *types.Job) error {
	if job == nil || job.ID == "" {
		return types.NewError(types.ErrValidation, "job must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "job store is closed")
	}
	cp := *job
	s.jobs[job.ID] = &cp
	if _, ok := s.results[job.ID]; !ok {
		s.results[job.ID] = types.NewJobResult(job.ID)
	}
	return nil
}

// GetJob retrieves a root job by id.
func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "job %q not found", id)
	}
	cp := *job
	return &cp, nil
}

// SaveSubJob persists a sub-job, initializing a CREATED result if needed.
func (s *MemoryJobStore) SaveSubJob(ctx context.Context, sub *types.SubJob) error {
	if sub == nil || sub.ID == "" {
		return types.NewError(types.ErrValidation, "sub-job must have an id")
	}
	if sub.OriginalJobID == "" {
		return types.NewError(types.ErrValidation, "sub-job is not assigned to an original job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "job store is closed")
	}
	cp := *sub
	s.subJobs[sub.ID] = &cp
	if _, ok := s.results[sub.ID]; !ok {
		s.results[sub.ID] = types.NewJobResult(sub.ID)
	}
	return nil
}

// GetSubJob retrieves a sub-job by id.
func (s *MemoryJobStore) GetSubJob(ctx context.Context, id string) (*types.SubJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subJobs[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "sub-job %q not found", id)
	}
	cp := *sub
	return &cp, nil
}

// GetSubJobs retrieves all sub-jobs belonging to a root job.
func (s *MemoryJobStore) GetSubJobs(ctx context.Context, originalJobID string) ([]*types.SubJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]*types.SubJob, 0)
	for _, sub := range s.subJobs {
		if sub.OriginalJobID == originalJobID {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	return subs, nil
}

// RemoveSubJob removes a sub-job record and its graph vertex.
func (s *MemoryJobStore) RemoveSubJob(ctx context.Context, originalJobID, subJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subJobs, subJobID)
	delete(s.results, subJobID)
	if g, ok := s.graphs[originalJobID]; ok {
		g.RemoveVertex(subJobID)
	}
	return nil
}

// SaveJobResult persists a result, rejecting illegal lifecycle transitions.
func (s *MemoryJobStore) SaveJobResult(ctx context.Context, result *types.JobResult) error {
	if result == nil || result.JobID == "" {
		return types.NewError(types.ErrValidation, "result must have a job id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "job store is closed")
	}
	existing, ok := s.results[result.JobID]
	if ok && existing.Status != result.Status && !existing.Status.CanTransitionTo(result.Status) {
		return types.NewErrorf(types.ErrInvalidTransition,
			"job %q cannot transition %s -> %s", result.JobID, existing.Status, result.Status)
	}
	cp := *result
	cp.UpdatedAt = time.Now()
	s.results[result.JobID] = &cp
	return nil
}

// GetJobResult retrieves the result for a job or sub-job.
func (s *MemoryJobStore) GetJobResult(ctx context.Context, jobID string) (*types.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "result for job %q not found", jobID)
	}
	cp := *result
	return &cp, nil
}

// ResetJobResult reinitializes a result to CREATED, bypassing the
// transition guard. Rollback-only.
func (s *MemoryJobStore) ResetJobResult(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "job store is closed")
	}
	if _, ok := s.results[jobID]; !ok {
		return types.NewErrorf(types.ErrJobNotFound, "result for job %q not found", jobID)
	}
	s.results[jobID] = types.NewJobResult(jobID)
	return nil
}

// GetJobGraph returns a working copy of the root job's graph.
func (s *MemoryJobStore) GetJobGraph(ctx context.Context, originalJobID string) (*graph.JobGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[originalJobID]
	if !ok {
		return graph.NewJobGraph(), nil
	}
	return g.Clone(), nil
}

// ReplaceSubgraph atomically swaps old for newSub in the root job's graph.
func (s *MemoryJobStore) ReplaceSubgraph(ctx context.Context, originalJobID string, newSub, old *graph.JobGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "job store is closed")
	}
	g, ok := s.graphs[originalJobID]
	if !ok {
		g = graph.NewJobGraph()
		s.graphs[originalJobID] = g
	}
	if err := g.ReplaceSubgraph(newSub, old); err != nil {
		return err
	}
	// Superseded sub-jobs stay on record flagged as legacy; only their
	// graph vertices are gone.
	if old != nil {
		for _, id := range old.Vertices() {
			if sub, ok := s.subJobs[id]; ok {
				sub.IsLegacy = true
			}
		}
	}
	return nil
}

// Close closes the store.
func (s *MemoryJobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
