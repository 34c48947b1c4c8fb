package app

import (
	"database/sql"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject connections instead of creating them from config
	db     *sql.DB
	redis  *goredis.Client
	broker message_broaker.MessageBroker
	logger *zap.Logger
	worker bool
}

// WithDB injects a PostgreSQL connection. The container does not close injected connections.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a Redis client. The container does not close injected connections.
func WithRedis(redis *goredis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithBroker injects a message broker. It is connected by NewContainer if it is not already.
func WithBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

func WithLogger(logger *zap.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// AsWorker builds the decoupled executor process: no HTTP API and no task store.
func AsWorker() ContainerOption {
	return func(c *containerConfig) {
		c.worker = true
	}
}
