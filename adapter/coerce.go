package adapter

import (
	"fmt"
	"strconv"
	"time"
)

// Filter values frequently arrive as strings (query parameters, form
// bodies). Backends differ in how forgiving they are: document stores
// compare literally while some relational drivers cast. Coercion to the
// declared field type therefore happens centrally here, identically for
// every backend.

func coerceWhere(m Model, where []Where) ([]Where, error) {
	if len(where) == 0 {
		return where, nil
	}
	out := make([]Where, len(where))
	for i, w := range where {
		field, ok := m.Fields[w.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, w.Field)
		}
		if w.Op == "" {
			w.Op = OpEq
		}
		switch w.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			v, err := coerceValue(field.Type, w.Value)
			if err != nil {
				return nil, err
			}
			w.Value = v
		case OpIn, OpNotIn:
			v, err := coerceList(elementType(field.Type), w.Value)
			if err != nil {
				return nil, err
			}
			w.Value = v
		case OpContains:
			// For array fields the needle is one element; for strings it
			// is a substring.
			v, err := coerceValue(elementType(field.Type), w.Value)
			if err != nil {
				return nil, err
			}
			w.Value = v
		default:
			return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, w.Op)
		}
		out[i] = w
	}
	return out, nil
}

// normalizeRecord coerces write payload values so stored data uses the same
// canonical representation filters are coerced to.
func normalizeRecord(m Model, data Record) (Record, error) {
	for k, v := range data {
		field, ok := m.Fields[k]
		if !ok {
			// Undeclared keys pass through untouched; plugins may carry
			// fields the core schema never learns about.
			continue
		}
		coerced, err := coerceValue(field.Type, v)
		if err != nil {
			return nil, err
		}
		data[k] = coerced
	}
	return data, nil
}

func elementType(ft FieldType) FieldType {
	switch ft {
	case TypeStringArray:
		return TypeString
	case TypeNumberArray:
		return TypeNumber
	default:
		return ft
	}
}

func coerceValue(ft FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrInvalidQuery, v)
		}
		return s, nil

	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidQuery, n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: expected number, got %T", ErrInvalidQuery, v)
		}

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch b {
			case "true":
				return true, nil
			case "false":
				return false, nil
			default:
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidQuery, b)
			}
		default:
			return nil, fmt.Errorf("%w: expected boolean, got %T", ErrInvalidQuery, v)
		}

	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			t, err := time.Parse(time.RFC3339, d)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an RFC3339 date", ErrInvalidQuery, d)
			}
			return t, nil
		default:
			return nil, fmt.Errorf("%w: expected date, got %T", ErrInvalidQuery, v)
		}

	case TypeStringArray, TypeNumberArray:
		return coerceList(elementType(ft), v)

	default:
		return v, nil
	}
}

func coerceList(elem FieldType, v any) ([]any, error) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, s := range list {
			items[i] = s
		}
	case []float64:
		items = make([]any, len(list))
		for i, f := range list {
			items[i] = f
		}
	case []int:
		items = make([]any, len(list))
		for i, n := range list {
			items[i] = n
		}
	default:
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidQuery, v)
	}

	out := make([]any, len(items))
	for i, item := range items {
		coerced, err := coerceValue(elem, item)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}
