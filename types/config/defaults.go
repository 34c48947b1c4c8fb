package config

import "time"

const (
	DefaultHTTPPort         = 3000
	DefaultWorkerCount      = 4
	DefaultStorageDriver    = Redis
	DefaultMQDriver         = RabbitMQ
	DefaultTopology         = Coupled
	DefaultWorkQueue        = "computing_queue"
	DefaultResponseQueue    = "response_queue"
	DefaultReconnectDelay   = 5 * time.Second
	DefaultExecutionTimeout = 30 * time.Second
	DefaultTaskTTL          = 24 * time.Hour
	DefaultPurgeSchedule    = "@every 1m"
	DefaultRedisKeyPrefix   = "tasks"
	DefaultScheduleRPS      = 20
	DefaultScheduleBurst    = 40
	DefaultLogLevel         = "info"
)
