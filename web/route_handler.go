package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/custom_errors"
	"github.com/RezaEskandarii/taskrelay/internal/computing"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/message_broaker"
	"github.com/RezaEskandarii/taskrelay/internal/metrics"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
)

const (
	maxRequestBody  = 1 << 16
	healthTimeout   = 2 * time.Second
	releaseTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// TaskScheduler is the scheduling entry point the HTTP API calls.
type TaskScheduler interface {
	Schedule(ctx context.Context, kind types.TaskKind, input any) (string, error)
}

// BrokerStatus reports the broker connection state for the health endpoint.
type BrokerStatus interface {
	State() message_broaker.ConnectionState
}

type RouteHandlerConfig struct {
	Port uint
	// ScheduleRPS limits POST /schedule per client address. Zero disables the limit.
	ScheduleRPS   float64
	ScheduleBurst int
}

type HttpRouteHandler struct {
	cfg       RouteHandlerConfig
	scheduler TaskScheduler
	store     store.TaskStore
	broker    BrokerStatus
	registry  *ConnectionRegistry
	notifier  *ResultNotifier
	metrics   *metrics.Collector
	limiter   *ipRateLimiter
	logger    *zap.Logger
}

func NewRouteHandler(
	cfg RouteHandlerConfig,
	scheduler TaskScheduler,
	taskStore store.TaskStore,
	broker BrokerStatus,
	registry *ConnectionRegistry,
	notifier *ResultNotifier,
	collector *metrics.Collector,
	logger *zap.Logger,
) *HttpRouteHandler {
	handler := &HttpRouteHandler{
		cfg:       cfg,
		scheduler: scheduler,
		store:     taskStore,
		broker:    broker,
		registry:  registry,
		notifier:  notifier,
		metrics:   collector,
		logger:    logging.Named(logger, "http"),
	}
	if cfg.ScheduleRPS > 0 {
		handler.limiter = newIPRateLimiter(cfg.ScheduleRPS, cfg.ScheduleBurst)
	}
	return handler
}

// Routes builds the HTTP handler. ctx bounds background housekeeping such as the rate limiter sweep.
func (handler *HttpRouteHandler) Routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	schedule := handler.handleSchedule
	if handler.limiter != nil {
		go handler.limiter.sweep(ctx)
		schedule = handler.limiter.middleware(schedule)
	}

	mux.HandleFunc("POST /schedule", schedule)
	mux.HandleFunc("GET /tasks/{id}", handler.handleGetTask)
	mux.HandleFunc("GET /tasks", handler.handleListTasks)
	mux.HandleFunc("GET /ws", handler.handleSubscribe)
	mux.HandleFunc("GET /api/fibonacci/{n}", handler.handleFibonacci)
	mux.HandleFunc("GET /api/fibonacci/sequence/{count}", handler.handleFibonacciSequence)
	mux.HandleFunc("GET /health", handler.handleHealth)
	if handler.metrics != nil {
		mux.Handle("GET /metrics", handler.metrics.Handler())
	}
	return mux
}

// Serve listens on the configured port until ctx is cancelled, then shuts down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", handler.cfg.Port),
		Handler:           handler.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		handler.logger.Info("http server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type scheduleRequest struct {
	N *int `json:"n"`
}

type scheduleResponse struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

func (handler *HttpRouteHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		verr := &custom_errors.ValidationError{}
		verr.AddField("n", "Value must be an integer")
		writeValidationError(w, verr)
		return
	}
	if req.N == nil {
		verr := &custom_errors.ValidationError{}
		verr.AddField("n", "Value is required")
		writeValidationError(w, verr)
		return
	}

	input := computing.FibonacciInput{N: *req.N}
	if err := input.Validate(); err != nil {
		var verr *custom_errors.ValidationError
		if errors.As(err, &verr) {
			writeValidationError(w, verr)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := handler.scheduler.Schedule(r.Context(), types.KindFibonacciCalculate, input)
	if err != nil {
		handler.logger.Error("failed to schedule task", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to schedule Fibonacci calculation")
		return
	}

	writeJSON(w, http.StatusAccepted, scheduleResponse{
		TaskID:  taskID,
		Message: fmt.Sprintf("Fibonacci calculation for position %d has been scheduled.", input.N),
	})
}

func (handler *HttpRouteHandler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := handler.store.GetTask(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return
	case err != nil:
		handler.logger.Error("failed to read task", zap.String("task_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read task")
		return
	}
	writeJSON(w, http.StatusOK, publicRecord(*rec))
}

func (handler *HttpRouteHandler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	// An empty status lists every task.
	status := state.TaskStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		verr := &custom_errors.ValidationError{}
		verr.AddField("status", "Value must be one of pending, queued, processing, completed, failed")
		writeValidationError(w, verr)
		return
	}

	page, err := handler.store.GetTasksByStatus(r.Context(), status, getPageNumber(r), getPageSize(r))
	if err != nil {
		handler.logger.Error("failed to list tasks", zap.String("status", status.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	for i := range page.Items {
		page.Items[i] = publicRecord(page.Items[i])
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSubscribe upgrades to a websocket bound to the taskId query parameter. The connection
// receives one event for the task and stays open until the client closes it.
func (handler *HttpRouteHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "taskId query parameter is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		handler.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	connID := handler.registry.Register(conn)
	defer func() {
		handler.registry.Unregister(connID)
		_ = conn.CloseNow()
	}()

	ctx := conn.CloseRead(r.Context())
	if err := handler.notifier.HandleConnection(ctx, connID, taskID); err != nil {
		handler.logger.Error("failed to subscribe connection", zap.String("task_id", taskID), zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}

	<-ctx.Done()

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), releaseTimeout)
	defer cancel()
	if err := handler.notifier.Release(releaseCtx, connID, taskID); err != nil {
		handler.logger.Warn("failed to release connection", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (handler *HttpRouteHandler) handleFibonacci(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid input. Please provide a non-negative integer.")
		return
	}
	if n > computing.MaxFibonacciInput {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Number too large. Please provide a number less than or equal to %d.", computing.MaxFibonacciInput))
		return
	}

	value, err := computing.Fibonacci(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"input": n, "fibonacci": value})
}

func (handler *HttpRouteHandler) handleFibonacciSequence(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.PathValue("count"))
	if err != nil || count < 1 {
		writeError(w, http.StatusBadRequest, "Invalid input. Please provide a positive integer.")
		return
	}
	if count > computing.MaxFibonacciSequence {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Count too large. Please provide a count less than or equal to %d.", computing.MaxFibonacciSequence))
		return
	}

	sequence, err := computing.FibonacciSequence(count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "sequence": sequence})
}

func (handler *HttpRouteHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := handler.store.HealthCheck(ctx); err != nil {
		handler.logger.Warn("task store health check failed", zap.Error(err))
		storeStatus = "unavailable"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	brokerState := handler.broker.State()
	if brokerState != message_broaker.Connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":      status,
		"store":       storeStatus,
		"broker":      brokerState.String(),
		"connections": handler.registry.Len(),
	})
}

// publicRecord hides the connection handle, which is only meaningful inside the API process.
func publicRecord(rec types.TaskRecord) types.TaskRecord {
	rec.ConnectionID = ""
	return rec
}
