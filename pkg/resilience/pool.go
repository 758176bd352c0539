/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resilience

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PoolConfig holds the connection-pool tunables; spec.md §4.5's
// defaults are applied by DefaultPoolConfig.
type PoolConfig struct {
	DSN               string
	MinConns          int32
	MaxConns          int32
	MaxConnIdleTime   time.Duration
	ConnectTimeout    time.Duration
	StatementTimeout  time.Duration
}

// DefaultPoolConfig returns spec.md §4.5's literal per-pool defaults
// for the given DSN: min 2, max 20, idle timeout 30s, connection
// timeout 10s, statement timeout 30s.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:              dsn,
		MinConns:         2,
		MaxConns:         20,
		MaxConnIdleTime:  30 * time.Second,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 30 * time.Second,
	}
}

var (
	poolMu   sync.Mutex
	pool     *pgxpool.Pool
	poolLog  = logrus.StandardLogger()
)

// Initialize creates the process-wide pool singleton. A second call
// warns and is otherwise a no-op, per spec.md §9's singleton lifecycle.
func Initialize(ctx context.Context, cfg PoolConfig) error {
	poolMu.Lock()
	defer poolMu.Unlock()

	if pool != nil {
		poolLog.Warn("connection pool already initialized; ignoring re-initialize")
		return nil
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "parse postgres dsn")
	}
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pgxCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.StatementTimeout > 0 {
		pgxCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	p, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create postgres pool")
	}
	pool = p
	return nil
}

// GetPool returns the initialized singleton, failing if Initialize was
// never called.
func GetPool() (*pgxpool.Pool, error) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "POOL_NOT_INITIALIZED")
	}
	return pool, nil
}

// Shutdown closes the singleton and clears it, allowing a later
// Initialize to create a fresh pool (tests only; production processes
// shut down once).
func Shutdown() {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool != nil {
		pool.Close()
		pool = nil
	}
}

// WithTenant borrows a connection from the pool, scopes it to tenant
// (and, if non-empty, user) via set_config — the parameterized
// equivalent of `SET LOCAL app.current_tenant = $tenant` real Postgres
// accepts — runs fn, and unconditionally releases the connection on
// every exit path.
func WithTenant(ctx context.Context, tenant, user string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	p, err := GetPool()
	if err != nil {
		return err
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "acquire pooled connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenant); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "set tenant context")
	}
	if user != "" {
		if _, err := conn.Exec(ctx, "SELECT set_config('app.current_user', $1, true)", user); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "set user context")
		}
	}
	return fn(ctx, conn)
}
