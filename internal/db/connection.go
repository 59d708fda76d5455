// Package db implements the call-control collaborators on MySQL with a Redis
// read cache.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

type Config struct {
	Driver          string
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// DSN renders the driver data source name.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true&interpolateParams=true",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

type DB struct {
	*sql.DB
	cfg    Config
	mu     sync.RWMutex
	health bool
	stop   chan struct{}
	once   sync.Once
}

// Open connects with retries and starts the background health check.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}

	var (
		conn *sql.DB
		err  error
	)
	for i := 0; i <= cfg.RetryAttempts; i++ {
		conn, err = sql.Open(cfg.Driver, cfg.DSN())
		if err == nil {
			err = conn.PingContext(ctx)
			if err == nil {
				break
			}
			conn.Close()
		}

		if i < cfg.RetryAttempts {
			logger.WithField("attempt", i+1).WithError(err).Warn("Database connection failed, retrying")
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrDatabase, "database connect cancelled")
			case <-time.After(cfg.RetryDelay * time.Duration(i+1)):
			}
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to connect to database")
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{
		DB:     conn,
		cfg:    cfg,
		health: true,
		stop:   make(chan struct{}),
	}
	go db.healthCheck()

	logger.Info("Database connection established", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

func (db *DB) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := db.PingContext(ctx)
		cancel()

		db.mu.Lock()
		was := db.health
		db.health = err == nil
		db.mu.Unlock()

		if was != (err == nil) {
			if err == nil {
				logger.Info("Database connection recovered")
			} else {
				logger.WithError(err).Error("Database connection lost")
			}
		}
	}
}

func (db *DB) IsHealthy() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.health
}

// Ping implements the readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	db.once.Do(func() { close(db.stop) })
	return db.DB.Close()
}

// Transaction runs fn in a transaction, retrying transient failures.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for i := 0; i <= db.cfg.RetryAttempts; i++ {
		err = db.transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}

		if i < db.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(db.cfg.RetryDelay * time.Duration(i+1)):
				logger.WithField("attempt", i+1).WithError(err).Warn("Transaction failed, retrying")
			}
		}
	}

	return errors.Wrap(err, errors.ErrDatabase, "transaction failed after retries")
}

func (db *DB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

var retryableErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"deadlock",
	"try restarting transaction",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, e := range retryableErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
