// Package guest holds the pre-built WebAssembly program that the sandbox runs.
//
// The runner reads the submitted snippet from standard input and writes its
// result to standard output. It imports only wasi_snapshot_preview1 (fd_read,
// fd_write, proc_exit) and exports a single parameterless entry point.
package guest

import (
	_ "embed"
)

// EntryPoint is the exported function invoked once per run.
const EntryPoint = "_start"

// Runner output framing around the echoed snippet.
const (
	RunnerPrefix = "Start Execution\nExecuting code: "
	RunnerSuffix = "\nEnd Execution\n"
)

//go:embed runner.wasm
var runner []byte

// Runner returns a copy of the embedded runner binary.
func Runner() []byte {
	out := make([]byte, len(runner))
	copy(out, runner)
	return out
}
