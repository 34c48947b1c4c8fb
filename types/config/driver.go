package config

import "fmt"

type StorageDriver int

const (
	Redis StorageDriver = iota + 1
	Postgres
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
	InMemory
)

// Topology decides where work is executed relative to where it is scheduled.
type Topology int

const (
	// Coupled executes work inside the scheduling process.
	Coupled Topology = iota + 1
	// Decoupled executes work in a separate worker process that answers on the response queue.
	Decoupled
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	case InMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Redis:
		return "redis"
	case Postgres:
		return "postgres"
	}
	return "unknown"
}

func (t Topology) String() string {
	switch t {
	case Coupled:
		return "coupled"
	case Decoupled:
		return "decoupled"
	}
	return "unknown"
}

func ParseStorageDriver(s string) (StorageDriver, error) {
	switch s {
	case "redis":
		return Redis, nil
	case "postgres":
		return Postgres, nil
	}
	return 0, fmt.Errorf("unsupported storage driver %q", s)
}

func ParseMessageQueueDriver(s string) (MessageQueueDriver, error) {
	switch s {
	case "rabbitmq":
		return RabbitMQ, nil
	case "memory":
		return InMemory, nil
	}
	return 0, fmt.Errorf("unsupported message queue driver %q", s)
}

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "coupled":
		return Coupled, nil
	case "decoupled":
		return Decoupled, nil
	}
	return 0, fmt.Errorf("unsupported topology %q", s)
}
