package sandbox

import (
	"context"
	"time"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeCompleted means the entry point returned or exited with code 0.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFaulted means the guest trapped, exited non-zero, or was
	// cancelled by the caller.
	OutcomeFaulted Outcome = "faulted"
	// OutcomeBudgetExhausted means the run's CPU budget ran out.
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
)

// ExecuteResult represents the result of one run
type ExecuteResult struct {
	RunID           string
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Outcome         Outcome
	ExitCode        uint32
	FuelConsumed    uint64
	PeakMemory      uint64
	MemoryDenials   int
	Duration        time.Duration
	// Err is the guest fault, nil when the run completed. It is reported
	// here and never returned from Execute.
	Err error
}

// Executor defines the interface for sandboxed snippet execution
type Executor interface {
	Execute(ctx context.Context, code string) (ExecuteResult, error)
}

// StagingArea defines the file operations exposed next to an Executor
type StagingArea interface {
	Write(path string, data []byte) error
	Remove(path string) error
	Paths() []string
}
