package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/jobflow/types"
)

// MemoryMessageStore is an in-memory implementation of MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[messageKey]*types.SystemMessage
	closed   bool
}

type messageKey struct {
	jobID string
	role  types.MessageRole
}

// NewMemoryMessageStore creates a new in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[messageKey]*types.SystemMessage),
	}
}

// UpsertSystemMessage creates or overwrites the message for (job id, role).
func (s *MemoryMessageStore) UpsertSystemMessage(ctx context.Context, msg *types.SystemMessage) error {
	if msg == nil || msg.JobID == "" {
		return types.NewError(types.ErrValidation, "message must have a job id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "message store is closed")
	}
	cp := *msg
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.UpdatedAt = time.Now()
	s.messages[messageKey{msg.JobID, msg.Role}] = &cp
	return nil
}

// GetSystemMessage retrieves the message for (job id, role).
func (s *MemoryMessageStore) GetSystemMessage(ctx context.Context, jobID string, role types.MessageRole) (*types.SystemMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageKey{jobID, role}]
	if !ok {
		return nil, types.NewErrorf(types.ErrJobNotFound, "no %s message for job %q", role, jobID)
	}
	cp := *msg
	return &cp, nil
}

// Close closes the store.
func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
