package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/RezaEskandarii/taskrelay/internal/constants"
	"github.com/RezaEskandarii/taskrelay/internal/lock"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	Schema     = "taskrelay_schema"
	scriptsDir = "migrations"
)

//go:embed migrations/*.sql
var scriptsFS embed.FS

// Open connects to PostgreSQL with lib/pq and verifies the connection.
func Open(ctx context.Context, postgresURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return db, nil
}

// Init creates the schema and runs the embedded scripts in file-name order.
// Only one instance migrates at a time, guarded by the migration advisory lock.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.LockReleaseTimeout)
		defer cancel()
		if err := distributedLock.Release(releaseCtx, constants.MigrationLock); err != nil {
			logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", Schema)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		logger.Debug("applying migration", zap.String("script", script.name))
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("migration %s failed: %w", script.name, err)
		}
	}
	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := fs.ReadDir(scriptsFS, scriptsDir)
	if err != nil {
		return nil, err
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := fs.ReadFile(scriptsFS, path.Join(scriptsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}
	return scripts, nil
}
