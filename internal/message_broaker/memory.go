package message_broaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
)

const memoryQueueCapacity = 4096

var ErrQueueFull = errors.New("queue is full")

type memoryQueue struct {
	messages chan []byte
}

// Memory is an in-process MessageBroker for single-process deployments and tests. It keeps the
// delivery contract of RabbitMQ: each consumer holds one message at a time, an ack removes it
// and a nack drops it to a per-queue dead-letter list that can be inspected.
type Memory struct {
	logger *zap.Logger

	mu          sync.Mutex
	queues      map[string]*memoryQueue
	deadLetters map[string][]json.RawMessage
	connected   bool
	closed      bool

	state atomic.Int32
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		logger:      logging.Named(logger, "memory_broker"),
		queues:      make(map[string]*memoryQueue),
		deadLetters: make(map[string][]json.RawMessage),
		done:        make(chan struct{}),
	}
}

func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBrokerClosed
	}
	m.connected = true
	m.state.Store(int32(Connected))
	return nil
}

func (m *Memory) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// queue returns the named queue, declaring it on first use. Callers hold m.mu.
func (m *Memory) queue(name string) *memoryQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memoryQueue{messages: make(chan []byte, memoryQueueCapacity)}
		m.queues[name] = q
	}
	return q
}

func (m *Memory) SendMessage(ctx context.Context, queue string, payload any, opts ...PublishOption) error {
	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message for queue %s: %w", queue, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNoPublishChannel
	}

	select {
	case m.queue(queue).messages <- append([]byte(nil), body...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, queue)
	}
}

func (m *Memory) StartConsumer(ctx context.Context, queue string, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNoConsumeChannel
	}

	q := m.queue(queue)
	m.wg.Add(1)
	go m.consume(ctx, queue, q, handler)
	return nil
}

func (m *Memory) consume(ctx context.Context, queue string, q *memoryQueue, handler MessageHandler) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case body, ok := <-q.messages:
			if !ok {
				return
			}
			if !dispatch(ctx, m.logger, queue, handler, body) {
				m.mu.Lock()
				m.deadLetters[queue] = append(m.deadLetters[queue], body)
				m.mu.Unlock()
			}
		}
	}
}

// DeadLetters returns the messages dropped from queue so far.
func (m *Memory) DeadLetters(queue string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.deadLetters[queue]...)
}

// Pending returns the number of messages waiting in queue.
func (m *Memory) Pending(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

func (m *Memory) DeleteQueue(ctx context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNoPublishChannel
	}
	if q, ok := m.queues[queue]; ok {
		close(q.messages)
		delete(m.queues, queue)
	}
	delete(m.deadLetters, queue)
	return nil
}

func (m *Memory) Cleanup(ctx context.Context, queues []string, closeConnection bool) error {
	var errs []error
	for _, queue := range queues {
		if err := m.DeleteQueue(ctx, queue); err != nil {
			errs = append(errs, err)
		}
	}
	if closeConnection {
		m.mu.Lock()
		if !m.closed {
			m.closed = true
			m.connected = false
			close(m.done)
		}
		m.mu.Unlock()
		m.state.Store(int32(Disconnected))
	}
	return errors.Join(errs...)
}

func (m *Memory) Close() error {
	err := m.Cleanup(context.Background(), nil, true)
	m.wg.Wait()
	return err
}

var _ MessageBroker = (*Memory)(nil)
