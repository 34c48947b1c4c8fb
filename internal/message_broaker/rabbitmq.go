package message_broaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/constants"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
)

type RabbitMQOption func(*RabbitMQ)

// WithReconnectDelay sets the fixed pause between reconnection attempts.
func WithReconnectDelay(d time.Duration) RabbitMQOption {
	return func(r *RabbitMQ) {
		if d > 0 {
			r.reconnectDelay = d
		}
	}
}

// WithReconnectHook registers a callback run after every successful reconnection.
func WithReconnectHook(fn func()) RabbitMQOption {
	return func(r *RabbitMQ) {
		r.onReconnect = fn
	}
}

// WithConsumerTagPrefix names consumers after the instance so they are recognizable in the management UI.
func WithConsumerTagPrefix(prefix string) RabbitMQOption {
	return func(r *RabbitMQ) {
		r.tagPrefix = prefix
	}
}

type subscription struct {
	ctx     context.Context
	queue   string
	handler MessageHandler
	tag     string
}

// RabbitMQ is a MessageBroker over a single AMQP connection. Publishing and consuming use
// separate channels so a failure on one path does not starve the other. An unexpected close
// drops both channels, so in-flight publishes fail fast, and schedules a reconnect after a
// fixed delay with unbounded retries. Registered consumers are re-subscribed on reconnect.
type RabbitMQ struct {
	url            string
	reconnectDelay time.Duration
	onReconnect    func()
	tagPrefix      string
	logger         *zap.Logger

	mu            sync.RWMutex
	conn          *amqp.Connection
	publishCh     *amqp.Channel
	consumeCh     *amqp.Channel
	declared      map[string]struct{}
	subscriptions []*subscription
	closing       bool

	publishMu sync.Mutex
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRabbitMQ creates a broker client. Nothing is dialed until Connect.
func NewRabbitMQ(url string, logger *zap.Logger, opts ...RabbitMQOption) *RabbitMQ {
	r := &RabbitMQ{
		url:            url,
		reconnectDelay: 5 * time.Second,
		tagPrefix:      "taskrelay",
		logger:         logging.Named(logger, "rabbitmq"),
		declared:       make(map[string]struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RabbitMQ) State() ConnectionState {
	return ConnectionState(r.state.Load())
}

func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.RLock()
	closing := r.closing
	r.mu.RUnlock()
	if closing {
		return ErrBrokerClosed
	}

	r.state.Store(int32(Connecting))
	if err := r.connect(ctx); err != nil {
		r.state.Store(int32(Disconnected))
		return err
	}
	return nil
}

func (r *RabbitMQ) connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(r.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open publish channel: %w", err)
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open consume channel: %w", err)
	}
	if err := consumeCh.Qos(constants.ConsumerPrefetch, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrBrokerClosed
	}
	r.conn = conn
	r.publishCh = publishCh
	r.consumeCh = consumeCh
	r.declared = make(map[string]struct{})
	subs := append([]*subscription(nil), r.subscriptions...)
	r.mu.Unlock()

	r.state.Store(int32(Connected))
	r.logger.Info("connected to rabbitmq")

	r.wg.Add(1)
	go r.watch(conn, closeCh)

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if err := r.subscribe(sub, consumeCh); err != nil {
			r.logger.Error("failed to re-subscribe consumer", zap.String("queue", sub.queue), zap.Error(err))
		}
	}
	return nil
}

// watch waits for the connection to close and reconnects unless the close was requested.
func (r *RabbitMQ) watch(conn *amqp.Connection, closeCh <-chan *amqp.Error) {
	defer r.wg.Done()

	amqpErr := <-closeCh

	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.publishCh = nil
	r.consumeCh = nil
	closing := r.closing
	r.mu.Unlock()

	r.state.Store(int32(Disconnected))
	if closing {
		return
	}

	if amqpErr != nil {
		r.logger.Warn("rabbitmq connection lost", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
	} else {
		r.logger.Warn("rabbitmq connection closed unexpectedly")
	}
	r.reconnectLoop()
}

func (r *RabbitMQ) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		select {
		case <-r.done:
			return
		case <-time.After(r.reconnectDelay):
		}

		r.state.Store(int32(Connecting))
		r.logger.Info("reconnecting to rabbitmq", zap.Int("attempt", attempt))
		if err := r.connect(context.Background()); err != nil {
			r.state.Store(int32(Disconnected))
			r.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if r.onReconnect != nil {
			r.onReconnect()
		}
		return
	}
}

func (r *RabbitMQ) SendMessage(ctx context.Context, queue string, payload any, opts ...PublishOption) error {
	options := defaultPublishOptions()
	for _, opt := range opts {
		opt(&options)
	}

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message for queue %s: %w", queue, err)
	}

	r.mu.RLock()
	ch := r.publishCh
	_, declared := r.declared[queue]
	r.mu.RUnlock()
	if ch == nil {
		return ErrNoPublishChannel
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if !declared {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		r.mu.Lock()
		r.declared[queue] = struct{}{}
		r.mu.Unlock()
	}

	timestamp := options.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   options.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: options.CorrelationID,
		Headers:       amqp.Table(options.Headers),
		Timestamp:     timestamp,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}
	r.logger.Debug("message sent", zap.String("queue", queue))
	return nil
}

func (r *RabbitMQ) StartConsumer(ctx context.Context, queue string, handler MessageHandler) error {
	sub := &subscription{
		ctx:     ctx,
		queue:   queue,
		handler: handler,
		tag:     fmt.Sprintf("%s-%s", r.tagPrefix, uuid.NewString()),
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrBrokerClosed
	}
	r.subscriptions = append(r.subscriptions, sub)
	ch := r.consumeCh
	r.mu.Unlock()

	if ch == nil {
		r.logger.Warn("consumer registered while disconnected, it starts on reconnect", zap.String("queue", queue))
		return nil
	}
	if err := r.subscribe(sub, ch); err != nil {
		r.forget(sub)
		return err
	}
	return nil
}

func (r *RabbitMQ) subscribe(sub *subscription, ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(sub.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", sub.queue, err)
	}
	deliveries, err := ch.Consume(sub.queue, sub.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", sub.queue, err)
	}

	r.logger.Info("waiting for messages", zap.String("queue", sub.queue), zap.String("consumer", sub.tag))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-sub.ctx.Done():
				_ = ch.Cancel(sub.tag, false)
				r.forget(sub)
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if dispatch(sub.ctx, r.logger, sub.queue, sub.handler, d.Body) {
					if err := d.Ack(false); err != nil {
						r.logger.Error("ack failed", zap.String("queue", sub.queue), zap.Error(err))
					}
					continue
				}
				// A delivery interrupted by shutdown goes back to the queue; anything else is dropped.
				if err := d.Nack(false, sub.ctx.Err() != nil); err != nil {
					r.logger.Error("nack failed", zap.String("queue", sub.queue), zap.Error(err))
				}
			}
		}
	}()
	return nil
}

func (r *RabbitMQ) forget(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subscriptions {
		if s == sub {
			r.subscriptions = append(r.subscriptions[:i], r.subscriptions[i+1:]...)
			return
		}
	}
}

func (r *RabbitMQ) DeleteQueue(ctx context.Context, queue string) error {
	r.mu.RLock()
	ch := r.publishCh
	r.mu.RUnlock()
	if ch == nil {
		return ErrNoPublishChannel
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", queue, err)
	}
	r.mu.Lock()
	delete(r.declared, queue)
	r.mu.Unlock()
	r.logger.Info("queue deleted", zap.String("queue", queue))
	return nil
}

func (r *RabbitMQ) Cleanup(ctx context.Context, queues []string, closeConnection bool) error {
	var errs []error
	for _, queue := range queues {
		if err := r.DeleteQueue(ctx, queue); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	if closeConnection {
		r.closing = true
	}
	consumeCh, publishCh, conn := r.consumeCh, r.publishCh, r.conn
	r.consumeCh, r.publishCh = nil, nil
	if closeConnection {
		r.conn = nil
	}
	r.mu.Unlock()

	if consumeCh != nil {
		if err := consumeCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if publishCh != nil {
		if err := publishCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}

	if closeConnection {
		r.closeOnce.Do(func() { close(r.done) })
		if conn != nil {
			if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, err)
			}
		}
		r.state.Store(int32(Disconnected))
		r.logger.Info("rabbitmq connection closed")
	}
	return errors.Join(errs...)
}

// Close tears everything down and waits for consumer goroutines to exit.
func (r *RabbitMQ) Close() error {
	err := r.Cleanup(context.Background(), nil, true)
	r.wg.Wait()
	return err
}

var _ MessageBroker = (*RabbitMQ)(nil)
