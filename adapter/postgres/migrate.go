package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/lmarrec/gatehouse/adapter"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs the embedded core migrations. The *sql.DB is typically
// opened through the pgx stdlib driver against the same DSN as the pool.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// EnsureModels creates tables for models the migrations do not know about,
// i.e. plugin-declared ones. Safe to run on every startup; existing tables
// are left alone. Core tables carry their indexes from the migrations.
func (b *Backend) EnsureModels(ctx context.Context, schema adapter.Schema) error {
	for model := range schema {
		table, err := tableName(model)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, data jsonb NOT NULL)`, table)
		if _, err := b.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure table for model %q: %w", model, err)
		}

		for field, f := range schema[model].Fields {
			if !f.Unique || field == "id" {
				continue
			}
			name, err := safeIdent(field)
			if err != nil {
				return err
			}
			idx := fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((data->>'%s'))`,
				indexName(model, name), table, name)
			if _, err := b.db.Exec(ctx, idx); err != nil {
				return fmt.Errorf("failed to ensure index on %s.%s: %w", model, field, err)
			}
		}
	}
	return nil
}

func indexName(model, field string) string {
	table, _ := tableName(model)
	return fmt.Sprintf("%s_%s_key", trimQuotes(table), field)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
