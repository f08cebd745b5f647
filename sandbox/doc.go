// Package sandbox provides secure code execution capabilities.
//
// The sandbox package runs untrusted snippets inside a WebAssembly virtual
// machine (wazero) with a bounded CPU budget and a bounded linear memory.
// A Runtime owns the compiled-code engine and is shared by every run. Each
// run builds a fresh ExecutionSession holding the WASI context, the
// ResourceLimiter and the captured stdout/stderr buffers, so no state leaks
// from one run to the next.
//
// The CPU budget is fuel: every guest and host function entry consumes fuel
// from a per-run meter, and the run halts with ErrBudgetExhausted when the
// meter is empty. Timeouts are translated into fuel with FuelPerMillisecond,
// which makes them approximate but reproducible.
//
// Usage:
//
//	sb, err := sandbox.New(nil, sandbox.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer sb.Close(ctx)
//	out, err := sb.Run(ctx, "print('Hello')")
package sandbox
