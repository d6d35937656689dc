package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// DB wraps *sql.DB with helpers used across the service.
type DB struct {
	*sql.DB
}

// NewConnection opens a plain postgres connection from a DATABASE_URL style DSN.
func NewConnection(databaseURL string) (*DB, error) {
	logger := telemetry.LogFromContext(context.Background()).WithField("operation", "database_connection")
	logger.Info("Establishing database connection")

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database connection")
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return &DB{db}, nil
}

// NewInstrumentedConnection opens a postgres connection instrumented with
// OpenTelemetry query tracing and pool metrics.
func NewInstrumentedConnection(databaseURL string) (*DB, error) {
	logger := telemetry.LogFromContext(context.Background()).WithField("operation", "instrumented_database_connection")
	logger.Info("Establishing instrumented database connection")

	db, err := otelsql.Open("postgres", databaseURL,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		logger.WithError(err).Error("Failed to open instrumented database connection")
		return nil, fmt.Errorf("failed to open instrumented database: %w", err)
	}

	configurePool(db)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := otelsql.RegisterDBStatsMetrics(db,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	); err != nil {
		logger.WithError(err).Warn("Failed to register database stats")
	}

	logger.Info("Instrumented database connection established")
	return &DB{db}, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	err := db.PingContext(ctx)
	if err != nil {
		telemetry.LogFromContext(ctx).WithError(err).Error("Database health check failed")
	}
	return err
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			telemetry.LogFromContext(ctx).WithError(rbErr).Warn("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
