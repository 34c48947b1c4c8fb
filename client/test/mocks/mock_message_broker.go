package mocks

import (
	"context"

	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
)

// MockMessageBroker is a mock implementation of message_broaker.MessageBroker for testing.
type MockMessageBroker struct {
	ConnectFunc       func(ctx context.Context) error
	SendMessageFunc   func(ctx context.Context, queue string, payload any, opts ...message_broaker.PublishOption) error
	StartConsumerFunc func(ctx context.Context, queue string, handler message_broaker.MessageHandler) error
	DeleteQueueFunc   func(ctx context.Context, queue string) error
	CleanupFunc       func(ctx context.Context, queues []string, closeConnection bool) error
	CloseFunc         func() error
}

func (m *MockMessageBroker) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockMessageBroker) SendMessage(ctx context.Context, queue string, payload any, opts ...message_broaker.PublishOption) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, queue, payload, opts...)
	}
	return nil
}

func (m *MockMessageBroker) StartConsumer(ctx context.Context, queue string, handler message_broaker.MessageHandler) error {
	if m.StartConsumerFunc != nil {
		return m.StartConsumerFunc(ctx, queue, handler)
	}
	return nil
}

func (m *MockMessageBroker) DeleteQueue(ctx context.Context, queue string) error {
	if m.DeleteQueueFunc != nil {
		return m.DeleteQueueFunc(ctx, queue)
	}
	return nil
}

func (m *MockMessageBroker) Cleanup(ctx context.Context, queues []string, closeConnection bool) error {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, queues, closeConnection)
	}
	return nil
}

func (m *MockMessageBroker) State() message_broaker.ConnectionState {
	return message_broaker.Connected
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ message_broaker.MessageBroker = (*MockMessageBroker)(nil)
