package message_broaker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNoPublishChannel = errors.New("no publish channel available, broker is not connected")
	ErrNoConsumeChannel = errors.New("no consume channel available, broker is not connected")
	ErrBrokerClosed     = errors.New("broker closed")
)

// MessageHandler processes one delivery. Only (true, nil) acknowledges the message; false,
// an error, a panic or a body that is not valid JSON drop it without requeue. Deployments
// are expected to bind a dead-letter exchange to every queue so dropped messages survive.
type MessageHandler func(ctx context.Context, body json.RawMessage) (bool, error)

// MessageBroker owns one transport connection with independent publish and consume channels.
type MessageBroker interface {
	Connect(ctx context.Context) error

	// SendMessage declares the durable queue and publishes payload as JSON. It returns
	// ErrNoPublishChannel while disconnected instead of buffering.
	SendMessage(ctx context.Context, queue string, payload any, opts ...PublishOption) error

	// StartConsumer subscribes handler to queue with a prefetch of one. The subscription
	// survives reconnects and ends when ctx is cancelled.
	StartConsumer(ctx context.Context, queue string, handler MessageHandler) error

	DeleteQueue(ctx context.Context, queue string) error

	// Cleanup deletes queues and closes both channels. closeConnection also closes the
	// connection and disables reconnection.
	Cleanup(ctx context.Context, queues []string, closeConnection bool) error

	State() ConnectionState

	Close() error
}

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// TopicHeader carries the task topic so queues can be inspected without decoding bodies.
const TopicHeader = "x-topic"

type PublishOptions struct {
	ContentType   string
	CorrelationID string
	Headers       map[string]any
	Timestamp     time.Time
}

type PublishOption func(*PublishOptions)

func defaultPublishOptions() PublishOptions {
	return PublishOptions{
		ContentType: "application/json",
	}
}

func WithCorrelationID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.CorrelationID = id
	}
}

func WithHeader(key string, value any) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]any)
		}
		o.Headers[key] = value
	}
}

// encodePayload passes pre-encoded JSON through and marshals everything else.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
