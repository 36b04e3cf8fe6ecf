package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
)

// compileWhere turns a filter list into a WHERE clause plus its positional
// args. Casts come from the Go type of each value, which the adapter layer
// already coerced to the field's declared type.
func compileWhere(where []adapter.Where) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	for _, w := range where {
		cond, newArgs, err := compileCondition(w, len(args))
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, newArgs...)
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func compileCondition(w adapter.Where, argOffset int) (string, []any, error) {
	field, err := safeIdent(w.Field)
	if err != nil {
		return "", nil, err
	}

	switch w.Op {
	case adapter.OpEq, adapter.OpNe, adapter.OpGt, adapter.OpGte, adapter.OpLt, adapter.OpLte:
		expr, value := typedExpr(field, w.Value)
		return fmt.Sprintf("%s %s $%d", expr, sqlOp(w.Op), argOffset+1), []any{value}, nil

	case adapter.OpIn, adapter.OpNotIn:
		list, ok := w.Value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s wants a list", adapter.ErrInvalidQuery, w.Op)
		}
		if len(list) == 0 {
			// An empty IN matches nothing; an empty NOT IN matches all.
			if w.Op == adapter.OpIn {
				return "FALSE", nil, nil
			}
			return "TRUE", nil, nil
		}
		expr, _ := typedExpr(field, list[0])
		placeholders := make([]string, len(list))
		args := make([]any, len(list))
		for i, v := range list {
			placeholders[i] = fmt.Sprintf("$%d", argOffset+i+1)
			_, args[i] = typedExpr(field, v)
		}
		op := "IN"
		if w.Op == adapter.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, op, strings.Join(placeholders, ", ")), args, nil

	case adapter.OpContains:
		if s, ok := w.Value.(string); ok {
			// A string needle cannot tell a scalar field from a string
			// array, so dispatch on the stored jsonb type: arrays get
			// element containment, scalars get a substring match.
			n := argOffset + 1
			expr := fmt.Sprintf(
				"(CASE WHEN jsonb_typeof(data->'%s') = 'array' THEN data->'%s' @> to_jsonb($%d::text) ELSE data->>'%s' LIKE '%%' || $%d || '%%' END)",
				field, field, n, field, n)
			return expr, []any{s}, nil
		}
		// Number-array membership: jsonb containment against the element.
		return fmt.Sprintf("data->'%s' @> to_jsonb($%d::numeric)", field, argOffset+1), []any{w.Value}, nil

	default:
		return "", nil, fmt.Errorf("%w: operator %q", adapter.ErrInvalidQuery, w.Op)
	}
}

func sqlOp(op adapter.Operator) string {
	switch op {
	case adapter.OpEq:
		return "="
	case adapter.OpNe:
		return "<>"
	case adapter.OpGt:
		return ">"
	case adapter.OpGte:
		return ">="
	case adapter.OpLt:
		return "<"
	case adapter.OpLte:
		return "<="
	}
	return "="
}

// typedExpr picks the jsonb extraction expression and the bind value for
// one coerced filter value.
func typedExpr(field string, value any) (string, any) {
	switch v := value.(type) {
	case float64:
		return fmt.Sprintf("(data->>'%s')::numeric", field), v
	case bool:
		return fmt.Sprintf("(data->>'%s')::boolean", field), v
	case time.Time:
		// Stored as RFC 3339 text inside the jsonb document.
		return fmt.Sprintf("(data->>'%s')::timestamptz", field), v
	default:
		return fmt.Sprintf("data->>'%s'", field), value
	}
}
