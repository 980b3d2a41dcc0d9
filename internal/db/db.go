package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"robot-rag/internal/config"
)

var tableModels = []interface{}{
	(*ChatRobot)(nil),
	(*ChatRobotDescription)(nil),
	(*User)(nil),
	(*Document)(nil),
	(*DocumentChunk)(nil),
	(*ChunkVector)(nil),
	(*ChatHistory)(nil),
}

// Connect opens the database named by cfg.Driver and returns a bun handle
// with the matching dialect.
func Connect(cfg *config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "sqlite":
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// in-memory databases live as long as their single connection
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "pq":
		sqldb, err := sql.Open("postgres", withSSLMode(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case "pgdriver", "":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgConnectorOptions(cfg)...))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

// pgConnectorOptions keeps the password embedded in the DSN unless one is
// configured explicitly.
func pgConnectorOptions(cfg *config.DatabaseConfig) []pgdriver.Option {
	opts := []pgdriver.Option{pgdriver.WithDSN(withSSLMode(cfg.DSN))}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return opts
}

func withSSLMode(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}

// InitDB creates the tables and indexes that do not exist yet.
func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range tableModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*ChatRobotDescription)(nil), "idx_descriptions_robot", []string{"chat_robot_id"}},
		{(*Document)(nil), "idx_documents_robot", []string{"chat_robot_id"}},
		{(*DocumentChunk)(nil), "idx_chunks_document", []string{"document_id", "sequence"}},
		{(*ChatHistory)(nil), "idx_history_user_robot", []string{"user_id", "chat_robot_id"}},
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DropTables removes every table owned by the store.
func DropTables(ctx context.Context, db *bun.DB) error {
	for i := len(tableModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tableModels[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table for %T: %w", tableModels[i], err)
		}
	}
	return nil
}
