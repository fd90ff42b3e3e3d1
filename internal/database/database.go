// Package database opens the relational store behind the position history:
// Postgres when configured and reachable, otherwise a local SQLite file.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotConnected is returned by Setup before a successful Connect.
var ErrNotConnected = errors.New("database not connected")

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

const pingTimeout = 5 * time.Second

// Manager owns the history database connection.
type Manager struct {
	DB *gorm.DB

	pool    *sql.DB
	backend string
	log     zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Connect opens the configured database. When hc.Type is postgres and the
// server cannot be reached, the SQLite file at hc.SQLitePath is used instead.
func (m *Manager) Connect(ctx context.Context, hc config.HistoryConfig, dc config.DBConfig) error {
	if hc.Type == BackendPostgres {
		err := m.connectPostgres(ctx, dc)
		if err == nil {
			m.log.Info().Str("host", dc.Host).Str("database", dc.Database).Msg("Connected to Postgres")
			return nil
		}
		m.log.Warn().Err(err).Str("host", dc.Host).Msg("Postgres unavailable, falling back to SQLite")
	}

	db, err := OpenSQLite(hc.SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite %q: %w", hc.SQLitePath, err)
	}
	if err := m.adopt(db, BackendSQLite); err != nil {
		return err
	}
	if hc.SQLitePath == "" {
		m.log.Info().Msg("Using in-memory SQLite DB")
	} else {
		m.log.Info().Str("path", hc.SQLitePath).Msg("Using local SQLite DB")
	}
	return nil
}

func (m *Manager) connectPostgres(ctx context.Context, dc config.DBConfig) error {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(dc),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}
	pool, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return err
	}
	pool.SetMaxOpenConns(10)
	pool.SetConnMaxIdleTime(5 * time.Minute)
	return m.adopt(db, BackendPostgres)
}

func (m *Manager) adopt(db *gorm.DB, backend string) error {
	pool, err := db.DB()
	if err != nil {
		return fmt.Errorf("access sql pool: %w", err)
	}
	m.DB, m.pool, m.backend = db, pool, backend
	return nil
}

// Backend returns BackendPostgres or BackendSQLite, or "" before Connect.
func (m *Manager) Backend() string {
	return m.backend
}

// Setup migrates the given models.
func (m *Manager) Setup(models ...any) error {
	if m.DB == nil {
		return ErrNotConnected
	}
	start := time.Now()
	if err := m.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	m.log.Info().Str("backend", m.backend).Int("models", len(models)).Dur("took", time.Since(start)).Msg("Database schema ready")
	return nil
}

// Close closes the connection pool. It is a no-op before Connect.
func (m *Manager) Close() error {
	if m.pool == nil {
		return nil
	}
	err := m.pool.Close()
	m.DB, m.pool = nil, nil
	return err
}

// PostgresDSN renders dc as a postgres:// URL, escaping the credentials.
func PostgresDSN(dc config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dc.Username, dc.Password),
		Host:     dc.Host + ":" + dc.Port,
		Path:     "/" + dc.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// OpenSQLite opens a SQLite database in WAL mode. An empty path opens a
// shared in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA temp_store = MEMORY;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}
