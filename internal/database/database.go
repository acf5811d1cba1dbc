package database

import (
	"autopublisher/internal/config"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type DB struct {
	*sqlx.DB
	log *zap.Logger
}

func ConnectDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.DbHOST,
		cfg.DB.DbPORT,
		cfg.DB.DbUSER,
		cfg.DB.DbPASSWORD,
		cfg.DB.DbNAME,
		cfg.DB.DbSSLMODE,
	)

	logger.Info("connecting to database", zap.String("host", cfg.DB.DbHOST), zap.String("dbname", cfg.DB.DbNAME))

	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{DB: db, log: logger}, nil
}

func (db *DB) CloseDB() error {
	return db.DB.Close()
}

// RunMigrations executes the SQL file at path. The statements are
// idempotent, so running it on every start is safe.
func (db *DB) RunMigrations(ctx context.Context, path string) error {
	migrationSQL, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("migration file not found: %s", path)
	}
	if err != nil {
		return fmt.Errorf("error reading migration file: %w", err)
	}

	db.log.Info("applying migrations", zap.String("path", path))
	if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	tables, err := db.CountTables(ctx)
	if err != nil {
		return err
	}
	db.log.Info("migrations applied", zap.Int("tables", tables))
	return nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	return db.PingContext(ctx)
}

// CountTables reports how many tables exist in the public schema.
func (db *DB) CountTables(ctx context.Context) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public'
	`)
	if err != nil {
		return 0, fmt.Errorf("error counting tables: %w", err)
	}
	return count, nil
}
