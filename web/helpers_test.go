package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/taskrelay/client"
	"github.com/RezaEskandarii/taskrelay/internal/computing"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	redisstore "github.com/RezaEskandarii/taskrelay/internal/store/redis"
	"github.com/RezaEskandarii/taskrelay/types"
	"github.com/RezaEskandarii/taskrelay/types/config"
)

const testWorkQueue = "computing_queue"

type testServer struct {
	server     *httptest.Server
	store      store.TaskStore
	broker     *message_broaker.Memory
	registry   *ConnectionRegistry
	reconciler *client.Reconciler
	handlers   *config.TaskHandlers
	metrics    *metrics.Collector
}

type serverOption func(*RouteHandlerConfig, *TaskScheduler, *BrokerStatus)

func withScheduler(s TaskScheduler) serverOption {
	return func(_ *RouteHandlerConfig, scheduler *TaskScheduler, _ *BrokerStatus) { *scheduler = s }
}

func withBrokerStatus(b BrokerStatus) serverOption {
	return func(_ *RouteHandlerConfig, _ *TaskScheduler, broker *BrokerStatus) { *broker = b }
}

func withRateLimit(rps float64, burst int) serverOption {
	return func(cfg *RouteHandlerConfig, _ *TaskScheduler, _ *BrokerStatus) {
		cfg.ScheduleRPS, cfg.ScheduleBurst = rps, burst
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	taskStore := redisstore.NewRedisTaskStore(redisClient, "tasks", nil)

	broker := message_broaker.NewMemory(nil)
	require.NoError(t, broker.Connect(ctx))
	t.Cleanup(func() { _ = broker.Close() })

	handlers := config.NewTaskHandlers()
	require.NoError(t, handlers.Register(types.KindFibonacciCalculate, computing.FibonacciHandler{}))

	collector := metrics.NewCollector()
	registry := NewConnectionRegistry(collector, nil)
	notifier := NewResultNotifier(taskStore, registry, collector, nil)

	cfg := RouteHandlerConfig{}
	var scheduler TaskScheduler = client.NewTaskScheduler(taskStore, broker, handlers, testWorkQueue, time.Hour, collector, nil)
	var brokerStatus BrokerStatus = broker
	for _, opt := range opts {
		opt(&cfg, &scheduler, &brokerStatus)
	}

	handler := NewRouteHandler(cfg, scheduler, taskStore, brokerStatus, registry, notifier, collector, nil)
	server := httptest.NewServer(handler.Routes(ctx))
	t.Cleanup(server.Close)

	return &testServer{
		server:     server,
		store:      taskStore,
		broker:     broker,
		registry:   registry,
		reconciler: client.NewReconciler(taskStore, registry, collector, nil),
		handlers:   handlers,
		metrics:    collector,
	}
}

func (ts *testServer) seed(t *testing.T, id string, status state.TaskStatus, result string) {
	t.Helper()
	now := time.Now().UTC()
	rec := &types.TaskRecord{
		ID:        id,
		Type:      types.KindFibonacciCalculate,
		Input:     json.RawMessage(`{"n":7}`),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if result != "" {
		rec.Result = json.RawMessage(result)
		rec.CompletedAt = &now
	}
	require.NoError(t, ts.store.SetTask(context.Background(), rec, time.Hour))
}

func (ts *testServer) dial(t *testing.T, taskID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws?taskId=" + taskID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.PushEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var event types.PushEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func (ts *testServer) connectionOf(t *testing.T, taskID string) string {
	t.Helper()
	rec, err := ts.store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	return rec.ConnectionID
}
