package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/internal/state"
	"github.com/RezaEskandarii/taskrelay/internal/store"
	"github.com/RezaEskandarii/taskrelay/types"
	"go.uber.org/zap"
)

// PostgresTaskStore keeps each task as a JSONB document with an explicit expires_at.
// Expired rows are invisible to every read and removed by PurgeExpired.
type PostgresTaskStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresTaskStore(db *sql.DB, logger *zap.Logger) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     db,
		logger: logging.Named(logger, "postgres_task_store"),
		now:    time.Now,
	}
}

func (s *PostgresTaskStore) SetTask(ctx context.Context, rec *types.TaskRecord, ttl time.Duration) error {
	query := `
		INSERT INTO taskrelay_schema.tasks (id, type, status, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = $2,
			status = $3,
			data = $4,
			updated_at = $6,
			expires_at = $7
	`
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", rec.ID, err)
	}

	expiresAt := s.now().UTC().Add(ttl)
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.Type, rec.Status, payload, rec.CreatedAt, rec.UpdatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store task %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresTaskStore) GetTask(ctx context.Context, id string) (*types.TaskRecord, error) {
	query := `SELECT data FROM taskrelay_schema.tasks WHERE id = $1 AND expires_at > now()`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *PostgresTaskStore) UpdateTask(ctx context.Context, id string, update types.TaskUpdate) (*types.TaskRecord, error) {
	rec, err := s.Transact(ctx, id, store.ApplyUpdate(update, s.now().UTC()))
	if errors.Is(err, store.ErrTaskNotFound) {
		s.logger.Warn("update skipped, task not found", zap.String("task_id", id))
	}
	return rec, err
}

func (s *PostgresTaskStore) UpdateTaskStatus(ctx context.Context, id string, status state.TaskStatus) error {
	_, err := s.UpdateTask(ctx, id, types.StatusUpdate(status))
	return err
}

func (s *PostgresTaskStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM taskrelay_schema.tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresTaskStore) SetTaskTTL(ctx context.Context, id string, ttl time.Duration) error {
	query := `UPDATE taskrelay_schema.tasks SET expires_at = $2 WHERE id = $1 AND expires_at > now()`
	res, err := s.db.ExecContext(ctx, query, id, s.now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to set ttl of task %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresTaskStore) GetTaskTTL(ctx context.Context, id string) (time.Duration, error) {
	query := `SELECT expires_at FROM taskrelay_schema.tasks WHERE id = $1 AND expires_at > now()`

	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, query, id).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of task %s: %w", id, err)
	}
	return expiresAt.Sub(s.now()), nil
}

func (s *PostgresTaskStore) GetTasksByStatus(ctx context.Context, status state.TaskStatus, page, pageSize int) (*types.PaginationResult[types.TaskRecord], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var args []interface{}
	where := "expires_at > now()"
	argIndex := 1
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM taskrelay_schema.tasks WHERE ` + where
	selectQuery := fmt.Sprintf(`
		SELECT id, data
		FROM taskrelay_schema.tasks
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, argIndex, argIndex+1)

	var totalItems int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	args = append(args, pageSize, offset)
	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]types.TaskRecord, 0, pageSize)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			s.logger.Warn("scan error", zap.Error(err))
			continue
		}
		rec, err := decode(id, data)
		if err != nil {
			s.logger.Warn("skipping undecodable task", zap.String("task_id", id), zap.Error(err))
			continue
		}
		tasks = append(tasks, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &types.PaginationResult[types.TaskRecord]{
		Items:           tasks,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

// Transact locks the row with SELECT ... FOR UPDATE for the duration of fn. expires_at is
// never touched so updates keep the expiry fixed at creation.
func (s *PostgresTaskStore) Transact(ctx context.Context, id string, fn store.TransactFunc) (*types.TaskRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM taskrelay_schema.tasks WHERE id = $1 AND expires_at > now() FOR UPDATE`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %s: %w", id, err)
	}

	rec, err := decode(id, data)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		if errors.Is(err, store.ErrNoChange) {
			return rec, nil
		}
		return nil, err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE taskrelay_schema.tasks SET status = $2, data = $3, updated_at = $4 WHERE id = $1`,
		id, rec.Status, payload, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task %s: %w", id, err)
	}
	return rec, nil
}

// PurgeExpired deletes every row past its expiry and returns how many were removed.
func (s *PostgresTaskStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM taskrelay_schema.tasks WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresTaskStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresTaskStore) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	return nil
}

func decode(id string, data []byte) (*types.TaskRecord, error) {
	var rec types.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &rec, nil
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)
