package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/jobflow/types"
)

// RedisMessageStore is a Redis-based implementation of MessageStore.
// Suitable for distributed deployments where the web layer reads failure
// and stop notifications written by the scheduler process.
type RedisMessageStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisMessageStore creates a new Redis-based message store and
// verifies connectivity.
func NewRedisMessageStore(config RedisConfig) (*RedisMessageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "jobflow"
	}
	return &RedisMessageStore{client: client, keyPrefix: keyPrefix}, nil
}

// NewRedisMessageStoreWithClient wraps an existing client, used by tests.
func NewRedisMessageStoreWithClient(client *redis.Client, keyPrefix string) *RedisMessageStore {
	if keyPrefix == "" {
		keyPrefix = "jobflow"
	}
	return &RedisMessageStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisMessageStore) messageKey(jobID string, role types.MessageRole) string {
	return fmt.Sprintf("%s:message:%s:%s", s.keyPrefix, jobID, role)
}

// UpsertSystemMessage creates or overwrites the message for (job id, role).
func (s *RedisMessageStore) UpsertSystemMessage(ctx context.Context, msg *types.SystemMessage) error {
	if msg == nil || msg.JobID == "" {
		return types.NewError(types.ErrValidation, "message must have a job id")
	}
	cp := *msg
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.client.Set(ctx, s.messageKey(msg.JobID, msg.Role), data, 0).Err()
}

// GetSystemMessage retrieves the message for (job id, role).
func (s *RedisMessageStore) GetSystemMessage(ctx context.Context, jobID string, role types.MessageRole) (*types.SystemMessage, error) {
	data, err := s.client.Get(ctx, s.messageKey(jobID, role)).Bytes()
	if err == redis.Nil {
		return nil, types.NewErrorf(types.ErrJobNotFound, "no %s message for job %q", role, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	var msg types.SystemMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// Close closes the underlying client.
func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}
