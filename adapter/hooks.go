package adapter

import "context"

// Operation names a mutating adapter call for hook registration.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// HookResult is the tri-state outcome of a before hook: nil means proceed,
// Data carries a patch to merge into the payload, Veto aborts the mutation.
// For deletes a veto skips the record silently; for create/update it
// surfaces as ErrHookAborted.
type HookResult struct {
	Data Record
	Veto bool
}

// BeforeHook runs ahead of a mutation and may patch or veto it. Returning an
// error aborts the operation and propagates.
type BeforeHook func(ctx context.Context, record Record) (*HookResult, error)

// AfterHook runs once the mutation has committed. Failures are reported via
// the adapter logger; the committed change is never rolled back.
type AfterHook func(ctx context.Context, record Record) error

type Hooks struct {
	Before BeforeHook
	After  AfterHook
}

// RegisterHooks appends a hook pair for a model/operation. Registration
// happens during startup, before the adapter serves requests; the chain
// runs in registration order and is never re-entrant for one logical call.
func (a *Adapter) RegisterHooks(model string, op Operation, h Hooks) {
	ops, ok := a.hooks[model]
	if !ok {
		ops = make(map[Operation][]Hooks)
		a.hooks[model] = ops
	}
	ops[op] = append(ops[op], h)
}

// runBefore executes the before chain. It returns the (possibly patched)
// record, whether any hook vetoed, and the first hook error.
func (a *Adapter) runBefore(ctx context.Context, model string, op Operation, record Record) (Record, bool, error) {
	for _, h := range a.hooks[model][op] {
		if h.Before == nil {
			continue
		}
		res, err := h.Before(ctx, record)
		if err != nil {
			return record, false, err
		}
		if res == nil {
			continue
		}
		if res.Veto {
			return record, true, nil
		}
		for k, v := range res.Data {
			record[k] = v
		}
	}
	return record, false, nil
}

// runAfter executes the after chain for a committed mutation. The triggering
// request may already be cancelled at this point; commit is the point of no
// return, so the chain runs to completion regardless.
func (a *Adapter) runAfter(model string, op Operation, record Record) {
	ctx := context.Background()
	for _, h := range a.hooks[model][op] {
		if h.After == nil {
			continue
		}
		if err := h.After(ctx, record); err != nil {
			a.logger.Error("after hook failed",
				"model", model,
				"operation", string(op),
				"error", err,
			)
		}
	}
}
