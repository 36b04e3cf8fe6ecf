// Package adapter presents one CRUD/query/transaction contract over any
// storage backend. Field coercion, id generation, timestamps, joins, and
// lifecycle hooks live here so individual backends stay thin.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmarrec/gatehouse/pkg/crypto"
)

// Operator names the supported filter comparisons.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Where is one normalized filter triple. A query is an implicit AND over
// a list of these.
type Where struct {
	Field string
	Op    Operator
	Value any
}

// Eq is shorthand for the most common filter.
func Eq(field string, value any) Where {
	return Where{Field: field, Op: OpEq, Value: value}
}

// SortBy orders FindMany results by a single field.
type SortBy struct {
	Field     string
	Direction string // "asc" or "desc"
}

// QueryOptions carries optional FindMany modifiers.
type QueryOptions struct {
	Sort  *SortBy
	Limit int
	// With names related models to resolve as a single-hop join. A missing
	// relation yields an empty slice on the record, never an error.
	With []string
}

// Record is a generic row. Backends never see model-specific Go types.
type Record map[string]any

// Clone returns a shallow copy so callers can mutate safely.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Backend is the seam a concrete storage engine implements. Values arriving
// here are already coerced to their declared field types; backends compare
// them literally and perform no string conversion of their own.
type Backend interface {
	Create(ctx context.Context, model string, data Record) (Record, error)
	FindOne(ctx context.Context, model string, where []Where) (Record, error)
	FindMany(ctx context.Context, model string, where []Where, opts *QueryOptions) ([]Record, error)
	Update(ctx context.Context, model string, where []Where, patch Record) (Record, error)
	Delete(ctx context.Context, model string, where []Where) (int, error)
	Transaction(ctx context.Context, fn func(tx Backend) error) error
	SupportsTransactions() bool
}

// Adapter wraps a Backend with the schema-aware core layer.
type Adapter struct {
	backend Backend
	schema  Schema
	logger  *slog.Logger
	idgen   *crypto.NanoIDGenerator
	hooks   map[string]map[Operation][]Hooks
}

// New builds the core adapter layer over a backend. A nil logger falls back
// to slog.Default().
func New(backend Backend, schema Schema, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	idgen, _ := crypto.NewNanoID("")
	return &Adapter{
		backend: backend,
		schema:  schema,
		logger:  logger,
		idgen:   idgen,
		hooks:   make(map[string]map[Operation][]Hooks),
	}
}

// Schema returns the merged schema the adapter validates against.
func (a *Adapter) ModelSchema() Schema { return a.schema }

// SupportsTransactions reports whether the underlying backend executes
// Transaction atomically. When false, Transaction degrades to best-effort
// sequential execution and callers must not assume atomicity.
func (a *Adapter) SupportsTransactions() bool { return a.backend.SupportsTransactions() }

func (a *Adapter) model(name string) (Model, error) {
	m, ok := a.schema[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Create inserts a record, filling id and timestamps when the model declares
// them, and runs the create hook chain around the write.
func (a *Adapter) Create(ctx context.Context, model string, data Record) (Record, error) {
	m, err := a.model(model)
	if err != nil {
		return nil, err
	}

	data = data.Clone()
	if _, declared := m.Fields["id"]; declared {
		if _, ok := data["id"]; !ok {
			id, err := a.idgen.Generate(0)
			if err != nil {
				return nil, fmt.Errorf("failed to generate id: %w", err)
			}
			data["id"] = id
		}
	}
	now := time.Now()
	if _, declared := m.Fields["createdAt"]; declared {
		if _, ok := data["createdAt"]; !ok {
			data["createdAt"] = now
		}
	}
	if _, declared := m.Fields["updatedAt"]; declared {
		data["updatedAt"] = now
	}

	data, err = normalizeRecord(m, data)
	if err != nil {
		return nil, err
	}

	data, vetoed, err := a.runBefore(ctx, model, OperationCreate, data)
	if err != nil {
		return nil, err
	}
	if vetoed {
		return nil, ErrHookAborted
	}

	// A cancelled request must not commit; once the write returns the
	// after hooks run to completion.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	created, err := a.backend.Create(ctx, model, data)
	if err != nil {
		return nil, &WriteError{Model: model, Op: OperationCreate, Err: err}
	}

	a.runAfter(model, OperationCreate, created)
	return created, nil
}

// FindOne returns the first match or (nil, nil) when absent.
func (a *Adapter) FindOne(ctx context.Context, model string, where []Where) (Record, error) {
	m, err := a.model(model)
	if err != nil {
		return nil, err
	}
	where, err = coerceWhere(m, where)
	if err != nil {
		return nil, err
	}
	return a.backend.FindOne(ctx, model, where)
}

// FindMany returns all matches, optionally sorted, limited, and joined.
func (a *Adapter) FindMany(ctx context.Context, model string, where []Where, opts *QueryOptions) ([]Record, error) {
	m, err := a.model(model)
	if err != nil {
		return nil, err
	}
	where, err = coerceWhere(m, where)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Sort != nil {
		if _, ok := m.Fields[opts.Sort.Field]; !ok {
			return nil, fmt.Errorf("%w: sort field %q not declared on %q", ErrInvalidQuery, opts.Sort.Field, model)
		}
	}

	records, err := a.backend.FindMany(ctx, model, where, stripJoin(opts))
	if err != nil {
		return nil, err
	}

	if opts != nil && len(opts.With) > 0 {
		if err := a.resolveJoins(ctx, model, records, opts.With); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Update patches the first match and returns it, or (nil, nil) when nothing
// matched. updatedAt refreshes automatically when declared.
func (a *Adapter) Update(ctx context.Context, model string, where []Where, patch Record) (Record, error) {
	m, err := a.model(model)
	if err != nil {
		return nil, err
	}
	where, err = coerceWhere(m, where)
	if err != nil {
		return nil, err
	}

	patch = patch.Clone()
	if _, declared := m.Fields["updatedAt"]; declared {
		patch["updatedAt"] = time.Now()
	}
	patch, err = normalizeRecord(m, patch)
	if err != nil {
		return nil, err
	}

	patch, vetoed, err := a.runBefore(ctx, model, OperationUpdate, patch)
	if err != nil {
		return nil, err
	}
	if vetoed {
		return nil, ErrHookAborted
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updated, err := a.backend.Update(ctx, model, where, patch)
	if err != nil {
		return nil, &WriteError{Model: model, Op: OperationUpdate, Err: err}
	}
	if updated != nil {
		a.runAfter(model, OperationUpdate, updated)
	}
	return updated, nil
}

// Delete removes every match, running the delete hook chain once per record.
// A before hook vetoing a record skips that record without error and its
// after hooks never run.
func (a *Adapter) Delete(ctx context.Context, model string, where []Where) (int, error) {
	m, err := a.model(model)
	if err != nil {
		return 0, err
	}
	where, err = coerceWhere(m, where)
	if err != nil {
		return 0, err
	}

	targets, err := a.backend.FindMany(ctx, model, where, nil)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, target := range targets {
		_, vetoed, err := a.runBefore(ctx, model, OperationDelete, target)
		if err != nil {
			return deleted, err
		}
		if vetoed {
			continue
		}

		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		n, err := a.backend.Delete(ctx, model, deleteKey(target, where))
		if err != nil {
			return deleted, &WriteError{Model: model, Op: OperationDelete, Err: err}
		}
		if n == 0 {
			continue
		}
		deleted += n
		a.runAfter(model, OperationDelete, target)
	}
	return deleted, nil
}

// deleteKey narrows the delete to one record by id when the record has one,
// falling back to the original filter otherwise.
func deleteKey(target Record, where []Where) []Where {
	if id, ok := target["id"]; ok {
		return []Where{Eq("id", id)}
	}
	return where
}

// Transaction executes fn atomically when the backend supports it and
// sequentially otherwise. The adapter handed to fn shares schema and hooks.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx *Adapter) error) error {
	if !a.backend.SupportsTransactions() {
		return fn(a)
	}
	return a.backend.Transaction(ctx, func(tx Backend) error {
		return fn(&Adapter{
			backend: tx,
			schema:  a.schema,
			logger:  a.logger,
			idgen:   a.idgen,
			hooks:   a.hooks,
		})
	})
}

func stripJoin(opts *QueryOptions) *QueryOptions {
	if opts == nil || len(opts.With) == 0 {
		return opts
	}
	return &QueryOptions{Sort: opts.Sort, Limit: opts.Limit}
}

// resolveJoins attaches related records for each requested model. The
// related model must declare a reference field pointing back at the parent.
func (a *Adapter) resolveJoins(ctx context.Context, model string, records []Record, with []string) error {
	for _, related := range with {
		rm, ok := a.schema[related]
		if !ok {
			return fmt.Errorf("%w: join target %q", ErrUnknownModel, related)
		}
		refField := ""
		for name, f := range rm.Fields {
			if f.References != nil && f.References.Model == model {
				refField = name
				break
			}
		}
		if refField == "" {
			return fmt.Errorf("%w: %q has no reference to %q", ErrInvalidQuery, related, model)
		}

		for _, rec := range records {
			id, ok := rec["id"]
			if !ok {
				rec[related] = []Record{}
				continue
			}
			children, err := a.backend.FindMany(ctx, related, []Where{Eq(refField, id)}, nil)
			if err != nil {
				return err
			}
			if children == nil {
				children = []Record{}
			}
			rec[related] = children
		}
	}
	return nil
}
