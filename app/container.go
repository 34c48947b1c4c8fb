package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RezaEskandarii/taskrelay/client"
	"github.com/RezaEskandarii/taskrelay/internal/computing"
	"github.com/RezaEskandarii/taskrelay/internal/db"
	"github.com/RezaEskandarii/taskrelay/internal/executor"
	"github.com/RezaEskandarii/taskrelay/internal/lock"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/internal/store/postgres"
	redisstore "github.com/RezaEskandarii/taskrelay/internal/store/redis"
	"github.com/RezaEskandarii/taskrelay/types"
	"github.com/RezaEskandarii/taskrelay/types/config"
	"github.com/RezaEskandarii/taskrelay/web"
)

const pingTimeout = 5 * time.Second

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.TaskRelayConfig
	Logger *zap.Logger
	Role   client.Role

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis *goredis.Client

	// Nil in the decoupled executor process.
	TaskStore store.TaskStore
	// Set only with the PostgreSQL driver.
	LockManager lock.DistributedLockManager
	Purger      *postgres.ExpiredTaskPurger

	MessageBroker message_broaker.MessageBroker
	Metrics       *metrics.Collector
	Handlers      *config.TaskHandlers
	Pool          *executor.Pool

	// Nil in the decoupled executor process.
	Scheduler    *client.TaskScheduler
	Reconciler   *client.Reconciler
	Registry     *web.ConnectionRegistry
	Notifier     *web.ResultNotifier
	RouteHandler *web.HttpRouteHandler

	Consumer *client.WorkerConsumer

	closers []func() error
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis, WithBroker to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.TaskRelayConfig, opts ...ContainerOption) (_ *Container, err error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	if opt.worker && cfg.Topology != config.Decoupled {
		return nil, errors.New("a separate worker process requires the decoupled topology")
	}

	logger := opt.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger.With(zap.String("instance", cfg.Instance)),
		Role:    client.RoleFor(cfg.Topology, opt.worker),
		Metrics: metrics.NewCollector(),
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.Role != client.RoleExecutor {
		if err := c.initStore(ctx, opt); err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}

	if err := c.initBroker(ctx, opt); err != nil {
		return nil, fmt.Errorf("init broker: %w", err)
	}

	if c.Role != client.RoleResponseReconciler {
		c.Handlers = config.NewTaskHandlers()
		if err := c.Handlers.Register(types.KindFibonacciCalculate, computing.FibonacciHandler{}); err != nil {
			return nil, err
		}
		c.Pool = executor.NewPool(cfg.WorkerCount, cfg.ExecutionTimeout, c.Logger)
		c.Metrics.TrackExecutions(c.Pool.Running)
		c.Logger.Info("task handlers registered", zap.Any("kinds", c.Handlers.List()))
	}

	if c.Role != client.RoleExecutor {
		c.wireAPI()
	}

	c.Consumer, err = client.NewWorkerConsumer(
		client.WorkerConsumerConfig{
			Role:          c.Role,
			WorkQueue:     cfg.RabbitMQConfig.WorkQueue,
			ResponseQueue: cfg.RabbitMQConfig.ResponseQueue,
			Consumers:     cfg.WorkerCount,
		},
		c.MessageBroker,
		c.TaskStore,
		c.Handlers,
		c.Pool,
		c.Reconciler,
		c.Metrics,
		c.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init consumer: %w", err)
	}
	return c, nil
}

func (c *Container) initStore(ctx context.Context, opt *containerConfig) error {
	switch c.Config.StorageDriver {
	case config.Redis:
		c.Redis = opt.redis
		if c.Redis == nil {
			rc := c.Config.RedisConfig
			c.Redis = goredis.NewClient(&goredis.Options{Addr: rc.Address, Password: rc.Password, DB: rc.DB})
			c.closers = append(c.closers, c.Redis.Close)
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		c.TaskStore = redisstore.NewRedisTaskStore(c.Redis, c.Config.RedisConfig.KeyPrefix, c.Logger)

	case config.Postgres:
		c.DB = opt.db
		if c.DB == nil {
			database, err := db.Open(ctx, c.Config.PostgresConfig.ConnectionUrl)
			if err != nil {
				return err
			}
			c.DB = database
			c.closers = append(c.closers, c.DB.Close)
		}
		lockMgr := lock.NewPostgresDistributedLockManager(c.DB)
		if err := db.Init(ctx, c.DB, lockMgr, c.Logger); err != nil {
			return err
		}
		pgStore := postgres.NewPostgresTaskStore(c.DB, c.Logger)
		c.LockManager = lockMgr
		c.TaskStore = pgStore
		c.Purger = postgres.NewExpiredTaskPurger(pgStore, lockMgr, c.Config.PostgresConfig.PurgeSchedule, c.Logger)

	default:
		return fmt.Errorf("unsupported storage driver: %v", c.Config.StorageDriver)
	}
	return nil
}

func (c *Container) initBroker(ctx context.Context, opt *containerConfig) error {
	c.MessageBroker = opt.broker
	if c.MessageBroker == nil {
		switch c.Config.MQDriver {
		case config.RabbitMQ:
			rc := c.Config.RabbitMQConfig
			c.MessageBroker = message_broaker.NewRabbitMQ(rc.URL, c.Logger,
				message_broaker.WithReconnectDelay(rc.ReconnectDelay),
				message_broaker.WithReconnectHook(c.Metrics.BrokerReconnected),
				message_broaker.WithConsumerTagPrefix(c.Config.Instance),
			)
		case config.InMemory:
			c.MessageBroker = message_broaker.NewMemory(c.Logger)
		default:
			return fmt.Errorf("unsupported message queue driver: %v", c.Config.MQDriver)
		}
		c.closers = append(c.closers, c.MessageBroker.Close)
	}

	if c.MessageBroker.State() == message_broaker.Connected {
		return nil
	}
	return c.MessageBroker.Connect(ctx)
}

func (c *Container) wireAPI() {
	cfg := c.Config
	c.Registry = web.NewConnectionRegistry(c.Metrics, c.Logger)
	c.Notifier = web.NewResultNotifier(c.TaskStore, c.Registry, c.Metrics, c.Logger)
	c.Reconciler = client.NewReconciler(c.TaskStore, c.Registry, c.Metrics, c.Logger)

	schedulingHandlers := c.Handlers
	if schedulingHandlers == nil {
		// The API of a decoupled deployment only needs to know which kinds exist.
		schedulingHandlers = config.NewTaskHandlers()
		_ = schedulingHandlers.Register(types.KindFibonacciCalculate, computing.FibonacciHandler{})
	}
	c.Scheduler = client.NewTaskScheduler(
		c.TaskStore, c.MessageBroker, schedulingHandlers,
		cfg.RabbitMQConfig.WorkQueue, cfg.TaskTTL, c.Metrics, c.Logger,
	)

	c.RouteHandler = web.NewRouteHandler(
		web.RouteHandlerConfig{Port: cfg.HTTPPort, ScheduleRPS: cfg.ScheduleRPS, ScheduleBurst: cfg.ScheduleBurst},
		c.Scheduler, c.TaskStore, c.MessageBroker, c.Registry, c.Notifier, c.Metrics, c.Logger,
	)
}

// Run starts the consumers, the purge schedule and, outside the executor process, the HTTP
// server. It blocks until ctx is cancelled or one of them fails.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := c.Consumer.Start(ctx); err != nil {
		return err
	}
	if c.Purger != nil {
		g.Go(func() error { return c.Purger.Start(ctx) })
	}
	if c.RouteHandler != nil {
		g.Go(func() error { return c.RouteHandler.Serve(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	c.Logger.Info("taskrelay started", zap.String("role", c.Role.String()))
	return g.Wait()
}

// Close releases the connections the container created itself, in reverse order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
