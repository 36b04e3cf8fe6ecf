// Package memory is an in-memory Backend used in tests and small
// deployments. It compares filter values literally with no type conversion,
// which is exactly what makes it useful for proving the adapter layer's
// coercion: a string "25" filtered against a numeric column matches only
// when the core layer converted it first.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
)

type Backend struct {
	mu     sync.RWMutex
	tables map[string][]adapter.Record
}

var _ adapter.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{tables: make(map[string][]adapter.Record)}
}

func (b *Backend) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tables[model] = append(b.tables[model], data.Clone())
	return data.Clone(), nil
}

func (b *Backend) FindOne(ctx context.Context, model string, where []adapter.Where) (adapter.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, rec := range b.tables[model] {
		if matches(rec, where) {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (b *Backend) FindMany(ctx context.Context, model string, where []adapter.Where, opts *adapter.QueryOptions) ([]adapter.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []adapter.Record
	for _, rec := range b.tables[model] {
		if matches(rec, where) {
			out = append(out, rec.Clone())
		}
	}

	if opts != nil && opts.Sort != nil {
		field, asc := opts.Sort.Field, opts.Sort.Direction != "desc"
		sort.SliceStable(out, func(i, j int) bool {
			less := compare(out[i][field], out[j][field]) < 0
			if asc {
				return less
			}
			return !less
		})
	}
	if opts != nil && opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (b *Backend) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, rec := range b.tables[model] {
		if matches(rec, where) {
			updated := rec.Clone()
			for k, v := range patch {
				updated[k] = v
			}
			b.tables[model][i] = updated
			return updated.Clone(), nil
		}
	}
	return nil, nil
}

func (b *Backend) Delete(ctx context.Context, model string, where []adapter.Where) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows := b.tables[model]
	kept := rows[:0]
	deleted := 0
	for _, rec := range rows {
		if matches(rec, where) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	b.tables[model] = kept
	return deleted, nil
}

// Transaction runs fn against the same backend. There is no rollback here;
// callers observing SupportsTransactions() == false must not assume
// atomicity.
func (b *Backend) Transaction(ctx context.Context, fn func(tx adapter.Backend) error) error {
	return fn(b)
}

func (b *Backend) SupportsTransactions() bool { return false }

func matches(rec adapter.Record, where []adapter.Where) bool {
	for _, w := range where {
		if !matchOne(rec[w.Field], w) {
			return false
		}
	}
	return true
}

func matchOne(have any, w adapter.Where) bool {
	switch w.Op {
	case adapter.OpEq, "":
		return equal(have, w.Value)
	case adapter.OpNe:
		return !equal(have, w.Value)
	case adapter.OpGt:
		return ordered(have, w.Value) && compare(have, w.Value) > 0
	case adapter.OpGte:
		return ordered(have, w.Value) && compare(have, w.Value) >= 0
	case adapter.OpLt:
		return ordered(have, w.Value) && compare(have, w.Value) < 0
	case adapter.OpLte:
		return ordered(have, w.Value) && compare(have, w.Value) <= 0
	case adapter.OpIn:
		list, ok := w.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if equal(have, item) {
				return true
			}
		}
		return false
	case adapter.OpNotIn:
		list, ok := w.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if equal(have, item) {
				return false
			}
		}
		return true
	case adapter.OpContains:
		switch hv := have.(type) {
		case string:
			needle, ok := w.Value.(string)
			return ok && strings.Contains(hv, needle)
		case []any:
			for _, item := range hv {
				if equal(item, w.Value) {
					return true
				}
			}
			return false
		default:
			return false
		}
	default:
		return false
	}
}

// equal is strict: values match only when types already agree. "25" never
// equals float64(25) down here.
func equal(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if al, ok := a.([]any); ok {
		bl, ok := b.([]any)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func ordered(a, b any) bool {
	switch a.(type) {
	case float64, string, time.Time:
	default:
		return false
	}
	return true
}

func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		return strings.Compare(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0
		}
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	default:
		return 0
	}
}
