// Package postgres is a generic storage backend over pgx. Every model maps
// to a two-column table (id text primary key, data jsonb); filters compile
// to jsonb expressions with casts chosen from the already-coerced value
// types, so the backend stays schema-free while plugins add models freely.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmarrec/gatehouse/adapter"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, which lets one
// Backend implementation serve transactional and plain execution.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Backend struct {
	db querier
}

var _ adapter.Backend = (*Backend)(nil)

func New(pool *pgxpool.Pool) *Backend {
	return &Backend{db: pool}
}

func (b *Backend) SupportsTransactions() bool { return true }

func (b *Backend) Transaction(ctx context.Context, fn func(tx adapter.Backend) error) error {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&Backend{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (b *Backend) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	table, err := tableName(model)
	if err != nil {
		return nil, err
	}
	id, _ := data["id"].(string)
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2) RETURNING data`, table)
	var out []byte
	if err := b.db.QueryRow(ctx, query, id, raw).Scan(&out); err != nil {
		return nil, err
	}
	return decodeRecord(out)
}

func (b *Backend) FindOne(ctx context.Context, model string, where []adapter.Where) (adapter.Record, error) {
	table, err := tableName(model)
	if err != nil {
		return nil, err
	}
	cond, args, err := compileWhere(where)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT data FROM %s %s LIMIT 1`, table, cond)
	var out []byte
	if err := b.db.QueryRow(ctx, query, args...).Scan(&out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(out)
}

func (b *Backend) FindMany(ctx context.Context, model string, where []adapter.Where, opts *adapter.QueryOptions) ([]adapter.Record, error) {
	table, err := tableName(model)
	if err != nil {
		return nil, err
	}
	cond, args, err := compileWhere(where)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT data FROM %s %s`, table, cond)
	if opts != nil && opts.Sort != nil {
		field, err := safeIdent(opts.Sort.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if strings.EqualFold(opts.Sort.Direction, "desc") {
			dir = "DESC"
		}
		// RFC 3339 timestamps and zero-padded ids sort correctly as text.
		query += fmt.Sprintf(` ORDER BY data->>'%s' %s`, field, dir)
	}
	if opts != nil && opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := b.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []adapter.Record
	for rows.Next() {
		var out []byte
		if err := rows.Scan(&out); err != nil {
			return nil, err
		}
		record, err := decodeRecord(out)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (b *Backend) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	table, err := tableName(model)
	if err != nil {
		return nil, err
	}
	cond, args, err := compileWhere(where)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	args = append(args, raw)

	query := fmt.Sprintf(
		`UPDATE %s SET data = data || $%d WHERE id = (SELECT id FROM %s %s LIMIT 1) RETURNING data`,
		table, len(args), table, cond,
	)
	var out []byte
	if err := b.db.QueryRow(ctx, query, args...).Scan(&out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(out)
}

func (b *Backend) Delete(ctx context.Context, model string, where []adapter.Where) (int, error) {
	table, err := tableName(model)
	if err != nil {
		return 0, err
	}
	cond, args, err := compileWhere(where)
	if err != nil {
		return 0, err
	}

	tag, err := b.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s %s`, table, cond), args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func decodeRecord(raw []byte) (adapter.Record, error) {
	var record adapter.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// tableName maps a camelCase model name to its snake_case table, quoted
// because core model names collide with reserved words ("user").
func tableName(model string) (string, error) {
	var sb strings.Builder
	for i, r := range model {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			return "", fmt.Errorf("%w: model name %q", adapter.ErrUnknownModel, model)
		}
	}
	return `"` + sb.String() + `"`, nil
}

func safeIdent(field string) (string, error) {
	for _, r := range field {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return "", fmt.Errorf("%w: field %q", adapter.ErrInvalidQuery, field)
	}
	return field, nil
}
