package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/types"
)

var ErrConnectionNotFound = errors.New("connection not found")

const writeTimeout = 5 * time.Second

// liveConnection serialises writes; a websocket connection does not allow concurrent writers.
type liveConnection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *liveConnection) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ConnectionRegistry maps connection ids to the websocket connections held by this process.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	conns   map[string]*liveConnection
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewConnectionRegistry(collector *metrics.Collector, logger *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:   make(map[string]*liveConnection),
		metrics: collector,
		logger:  logging.Named(logger, "connection_registry"),
	}
}

// Register stores conn under a fresh id and returns the id.
func (r *ConnectionRegistry) Register(conn *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &liveConnection{conn: conn}
	r.mu.Unlock()
	r.metrics.ConnectionOpened()
	r.logger.Debug("connection registered", zap.String("connection_id", id))
	return id
}

func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		r.metrics.ConnectionClosed()
		r.logger.Debug("connection unregistered", zap.String("connection_id", id))
	}
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send writes event to the connection as one JSON text frame.
func (r *ConnectionRegistry) Send(ctx context.Context, id string, event types.PushEvent) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Event, err)
	}
	if err := conn.write(ctx, data); err != nil {
		return fmt.Errorf("failed to write to connection %s: %w", id, err)
	}
	return nil
}

// Push implements client.ResultPusher.
func (r *ConnectionRegistry) Push(ctx context.Context, connectionID string, event types.PushEvent) error {
	return r.Send(ctx, connectionID, event)
}
