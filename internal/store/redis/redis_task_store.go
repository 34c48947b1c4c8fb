package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	maxTransactAttempts = 16
	scanBatch           = 200
)

// RedisTaskStore keeps each task as a JSON string under <prefix>:<id> with a native expiry.
type RedisTaskStore struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisTaskStore(client *goredis.Client, prefix string, logger *zap.Logger) *RedisTaskStore {
	return &RedisTaskStore{
		client: client,
		prefix: prefix,
		logger: logging.Named(logger, "redis_task_store"),
		now:    time.Now,
	}
}

func (s *RedisTaskStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisTaskStore) SetTask(ctx context.Context, rec *types.TaskRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", rec.ID, err)
	}
	if err := s.client.Set(ctx, s.key(rec.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisTaskStore) GetTask(ctx context.Context, id string) (*types.TaskRecord, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *RedisTaskStore) UpdateTask(ctx context.Context, id string, update types.TaskUpdate) (*types.TaskRecord, error) {
	rec, err := s.Transact(ctx, id, store.ApplyUpdate(update, s.now().UTC()))
	if errors.Is(err, store.ErrTaskNotFound) {
		s.logger.Warn("update skipped, task not found", zap.String("task_id", id))
	}
	return rec, err
}

func (s *RedisTaskStore) UpdateTaskStatus(ctx context.Context, id string, status state.TaskStatus) error {
	_, err := s.UpdateTask(ctx, id, types.StatusUpdate(status))
	return err
}

func (s *RedisTaskStore) DeleteTask(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

func (s *RedisTaskStore) SetTaskTTL(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, s.key(id), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set ttl of task %s: %w", id, err)
	}
	if !ok {
		return store.ErrTaskNotFound
	}
	return nil
}

func (s *RedisTaskStore) GetTaskTTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of task %s: %w", id, err)
	}
	// go-redis reports the raw -2 (missing key) and -1 (no expiry) replies.
	switch ttl {
	case -2:
		return 0, store.ErrTaskNotFound
	case -1:
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisTaskStore) GetTasksByStatus(ctx context.Context, status state.TaskStatus, page, pageSize int) (*types.PaginationResult[types.TaskRecord], error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}

	var tasks []types.TaskRecord
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load tasks: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// expired between SCAN and MGET
				continue
			}
			rec, err := decode(keys[start+i], []byte(raw))
			if err != nil {
				s.logger.Warn("skipping undecodable task", zap.String("key", keys[start+i]), zap.Error(err))
				continue
			}
			if status == "" || rec.Status == status {
				tasks = append(tasks, *rec)
			}
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	result := types.Paginate(tasks, page, pageSize)
	return &result, nil
}

// Transact implements optimistic locking with WATCH/MULTI/EXEC. SET KEEPTTL keeps the
// expiry that was fixed at creation.
func (s *RedisTaskStore) Transact(ctx context.Context, id string, fn store.TransactFunc) (*types.TaskRecord, error) {
	key := s.key(id)

	for attempt := 0; attempt < maxTransactAttempts; attempt++ {
		var out *types.TaskRecord
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				return store.ErrTaskNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to read task %s: %w", id, err)
			}
			rec, err := decode(id, data)
			if err != nil {
				return err
			}

			if err := fn(rec); err != nil {
				if errors.Is(err, store.ErrNoChange) {
					out = rec
					return nil
				}
				return err
			}

			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal task %s: %w", id, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.SetArgs(ctx, key, payload, goredis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to write task %s: %w", id, err)
			}
			out = rec
			return nil
		}, key)

		if err == nil {
			return out, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("task changed during transaction, retrying", zap.String("task_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", store.ErrConflict, id)
}

func (s *RedisTaskStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}

func decode(id string, data []byte) (*types.TaskRecord, error) {
	var rec types.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &rec, nil
}

var _ store.TaskStore = (*RedisTaskStore)(nil)
