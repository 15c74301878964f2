package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/doc-translator/db"
)

const migrationsTable = "schema_migrations"

// Migrate applies embedded migrations in order, recording each applied version.
func Migrate(ctx context.Context, conn *sql.DB, dialectName string, logger *slog.Logger) error {
	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
    version       TEXT PRIMARY KEY,
    applied_at_ms BIGINT NOT NULL
)`); err != nil {
		return classify("create migrations table", err)
	}

	applied, err := appliedVersions(ctx, conn, dialectName)
	if err != nil {
		return err
	}
	migrations, err := db.Migrations()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := applyMigration(ctx, conn, dialectName, m); err != nil {
			logger.Error("migration failed", "version", m.Version, "error", err)
			return err
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.DB, dialectName string) (map[string]struct{}, error) {
	query, args := entsql.Dialect(dialectName).Select("version").From(entsql.Table(migrationsTable)).Query()
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list migrations", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]struct{}{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, classify("scan migration", err)
		}
		out[v] = struct{}{}
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, conn *sql.DB, dialectName string, m db.Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin migration "+m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify("migration "+m.Version, err)
		}
	}
	query, args := entsql.Dialect(dialectName).Insert(migrationsTable).
		Columns("version", "applied_at_ms").
		Values(m.Version, time.Now().UnixMilli()).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify("record migration "+m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit migration "+m.Version, err)
	}
	return nil
}
