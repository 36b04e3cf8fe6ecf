package memory

import (
	"context"
	"testing"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
)

// Requirement: the backend compares literally. It must never convert a
// string filter to match a typed value; that is the adapter layer's job.
func TestBackendFindOne_StrictTypeEquality(t *testing.T) {
	b := New()
	ctx := context.Background()

	if _, err := b.Create(ctx, "item", adapter.Record{"id": "1", "count": float64(25)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name  string
		value any
		found bool
	}{
		{name: "typed value matches", value: float64(25), found: true},
		{name: "string value does not match", value: "25", found: false},
		{name: "int value does not match", value: 25, found: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec, err := b.FindOne(ctx, "item", []adapter.Where{adapter.Eq("count", test.value)})
			if err != nil {
				t.Fatalf("FindOne() error = %v", err)
			}
			if (rec != nil) != test.found {
				t.Errorf("found = %v, want %v", rec != nil, test.found)
			}
		})
	}
}

func TestBackendFindMany_Operators(t *testing.T) {
	b := New()
	ctx := context.Background()

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []adapter.Record{
		{"id": "a", "count": float64(10), "at": older, "tags": []any{"red", "blue"}},
		{"id": "b", "count": float64(20), "at": newer, "tags": []any{"green"}},
		{"id": "c", "count": float64(30), "at": newer, "tags": []any{}},
	}
	for _, rec := range records {
		if _, err := b.Create(ctx, "item", rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name  string
		where []adapter.Where
		want  int
	}{
		{name: "gt number", where: []adapter.Where{{Field: "count", Op: adapter.OpGt, Value: float64(10)}}, want: 2},
		{name: "lte number", where: []adapter.Where{{Field: "count", Op: adapter.OpLte, Value: float64(20)}}, want: 2},
		{name: "gt time", where: []adapter.Where{{Field: "at", Op: adapter.OpGt, Value: older}}, want: 2},
		{name: "ne", where: []adapter.Where{{Field: "id", Op: adapter.OpNe, Value: "a"}}, want: 2},
		{name: "in", where: []adapter.Where{{Field: "id", Op: adapter.OpIn, Value: []any{"a", "c"}}}, want: 2},
		{name: "not_in", where: []adapter.Where{{Field: "id", Op: adapter.OpNotIn, Value: []any{"a"}}}, want: 2},
		{name: "contains array element", where: []adapter.Where{{Field: "tags", Op: adapter.OpContains, Value: "red"}}, want: 1},
		{name: "contains substring", where: []adapter.Where{{Field: "id", Op: adapter.OpContains, Value: "b"}}, want: 1},
		{name: "and across filters", where: []adapter.Where{
			{Field: "count", Op: adapter.OpGt, Value: float64(10)},
			{Field: "at", Op: adapter.OpEq, Value: newer},
		}, want: 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := b.FindMany(ctx, "item", test.where, nil)
			if err != nil {
				t.Fatalf("FindMany() error = %v", err)
			}
			if len(out) != test.want {
				t.Errorf("FindMany() returned %d records, want %d", len(out), test.want)
			}
		})
	}
}

// Requirement: reads hand out copies; mutating a result must not change
// stored data.
func TestBackendFindOne_ReturnsClones(t *testing.T) {
	b := New()
	ctx := context.Background()

	if _, err := b.Create(ctx, "item", adapter.Record{"id": "1", "name": "original"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := b.FindOne(ctx, "item", []adapter.Where{adapter.Eq("id", "1")})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	rec["name"] = "mutated"

	again, err := b.FindOne(ctx, "item", []adapter.Where{adapter.Eq("id", "1")})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if again["name"] != "original" {
		t.Errorf("stored record changed to %q after caller mutation", again["name"])
	}
}

func TestBackendDelete_RemovesAllMatches(t *testing.T) {
	b := New()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		owner := "x"
		if id == "3" {
			owner = "y"
		}
		if _, err := b.Create(ctx, "item", adapter.Record{"id": id, "owner": owner}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := b.Delete(ctx, "item", []adapter.Where{adapter.Eq("owner", "x")})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() = %d, want 2", n)
	}

	remaining, err := b.FindMany(ctx, "item", nil, nil)
	if err != nil {
		t.Fatalf("FindMany() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0]["id"] != "3" {
		t.Errorf("remaining records = %v, want only id 3", remaining)
	}
}
