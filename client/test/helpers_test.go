package test

import (
	"context"
	"testing"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/computing"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	redisstore "github.com/RezaEskandarii/taskrelay/internal/store/redis"
	"github.com/RezaEskandarii/taskrelay/types"
	"github.com/RezaEskandarii/taskrelay/types/config"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	workQueue     = "computing_queue"
	responseQueue = "response_queue"
	taskTTL       = 24 * time.Hour
)

func newTestStore(t *testing.T) *redisstore.RedisTaskStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewRedisTaskStore(client, "tasks", nil)
}

func newTestBroker(t *testing.T) *message_broaker.Memory {
	t.Helper()
	broker := message_broaker.NewMemory(nil)
	require.NoError(t, broker.Connect(context.Background()))
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func newTestHandlers(t *testing.T) *config.TaskHandlers {
	t.Helper()
	handlers := config.NewTaskHandlers()
	require.NoError(t, handlers.Register(types.KindFibonacciCalculate, computing.FibonacciHandler{}))
	return handlers
}
