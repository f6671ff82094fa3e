package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "roomrelay/pkg/database"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.CredentialRepository = (*Manager)(nil)

// Manager is the SQLite credential repository. Reads run concurrently on the
// pool; every write goes through a single writer goroutine.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	log          zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sqlx.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect(dbconfig.DriverName, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).ValidateTablesExist(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		log:          logger.With().Str("component", "database").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if isBusy(err) {
				m.log.Warn().Err(err).Dur("retry_in", m.config.RetryDelay).Msg("database write failed, retrying")
				time.Sleep(m.config.RetryDelay)
				err = op.operation(op.ctx, m.db)
			}
			if err != nil {
				m.log.Debug().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug().Msg("write loop shutting down")
			return
		}
	}
}

// isBusy reports whether err is a transient lock error worth one retry.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// InsertAPIKey stores a new API key.
func (m *Manager) InsertAPIKey(ctx context.Context, key *types.APIKey) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return insertAPIKey(ctx, db, key)
	})
}

func insertAPIKey(ctx context.Context, ext sqlx.ExtContext, key *types.APIKey) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO api_keys (key_hash, client_id, expires, invalidated_at, created_at)
		VALUES (:key_hash, :client_id, :expires, :invalidated_at, :created_at)
	`, key)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKey looks up a key by hash regardless of its state.
func (m *Manager) GetAPIKey(ctx context.Context, keyHash string) (*types.APIKey, error) {
	var key types.APIKey
	err := m.db.GetContext(ctx, &key, `
		SELECT key_hash, client_id, expires, invalidated_at, created_at
		FROM api_keys
		WHERE key_hash = ?
	`, keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns every stored key, newest first.
func (m *Manager) ListAPIKeys(ctx context.Context) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := m.db.SelectContext(ctx, &keys, `
		SELECT key_hash, client_id, expires, invalidated_at, created_at
		FROM api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// InvalidateAPIKey marks the key invalidated. Unknown and already
// invalidated keys are left untouched.
func (m *Manager) InvalidateAPIKey(ctx context.Context, keyHash string, at time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.ExecContext(ctx,
			"UPDATE api_keys SET invalidated_at = ? WHERE key_hash = ? AND invalidated_at IS NULL",
			at.UnixMilli(), keyHash)
		if err != nil {
			return fmt.Errorf("failed to invalidate api key: %w", err)
		}
		return nil
	})
}

// ReplaceAPIKey invalidates oldHash and stores fresh atomically. It returns
// types.ErrNotFound unless oldHash is present and not yet invalidated.
func (m *Manager) ReplaceAPIKey(ctx context.Context, oldHash string, fresh *types.APIKey, at time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var count int
		if err := tx.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM api_keys WHERE key_hash = ? AND invalidated_at IS NULL", oldHash); err != nil {
			return fmt.Errorf("failed to query api key: %w", err)
		}
		if count == 0 {
			return types.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE api_keys SET invalidated_at = ? WHERE key_hash = ?",
			at.UnixMilli(), oldHash); err != nil {
			return fmt.Errorf("failed to invalidate api key: %w", err)
		}
		if err := insertAPIKey(ctx, tx, fresh); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// InsertAdminKeyIfAbsent stores key unless a live admin key exists.
func (m *Manager) InsertAdminKeyIfAbsent(ctx context.Context, key *types.APIKey, now time.Time) (bool, error) {
	inserted := false
	err := m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var live int
		err = tx.GetContext(ctx, &live, `
			SELECT COUNT(*) FROM api_keys
			WHERE client_id = ? AND invalidated_at IS NULL AND expires > ?
		`, types.AdminClientID, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to query admin keys: %w", err)
		}
		if live > 0 {
			return nil
		}

		if err := insertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// InsertToken stores a new session token.
func (m *Manager) InsertToken(ctx context.Context, token *types.SessionToken) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO tokens (token_hash, api_key_hash, expires, used_at)
			VALUES (:token_hash, :api_key_hash, :expires, :used_at)
		`, token)
		if err != nil {
			return fmt.Errorf("failed to insert token: %w", err)
		}
		return nil
	})
}

// ConsumeToken marks the token used in a single conditional update, so two
// concurrent consumers can never both succeed.
func (m *Manager) ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var affected int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE tokens SET used_at = ? WHERE token_hash = ? AND expires > ? AND used_at IS NULL",
			now.UnixMilli(), tokenHash, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to consume token: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM api_keys"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
