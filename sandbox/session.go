package sandbox

import (
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
)

// StagingMountPoint is where a staged filesystem appears inside the guest.
const StagingMountPoint = "/staging"

// ExecutionSession bundles everything one run owns: the guest's stdio
// wiring, its ResourceLimiter and its capture buffers. A session is used
// for exactly one run and never shared between goroutines.
type ExecutionSession struct {
	id      string
	snippet string
	limiter *ResourceLimiter
	stdout  *CaptureBuffer
	stderr  *CaptureBuffer
	stdin   io.Reader
	out     io.Writer
	errOut  io.Writer
	staged  fs.FS

	tableCeiling      uint64
	outputLimit       int
	inheritStdio      bool
	trapOnGrowFailure bool
}

// SessionOption configures an ExecutionSession.
type SessionOption func(*ExecutionSession)

// WithInheritedStdio wires the guest to the host process's stdio instead of
// the capture buffers. Output is then not retrievable per run; it exists
// for local debugging only.
func WithInheritedStdio() SessionOption {
	return func(s *ExecutionSession) {
		s.inheritStdio = true
	}
}

// WithTableCeiling bounds every guest table to n elements.
func WithTableCeiling(n uint64) SessionOption {
	return func(s *ExecutionSession) {
		s.tableCeiling = n
	}
}

// WithStagedFS mounts fsys read-only at StagingMountPoint.
func WithStagedFS(fsys fs.FS) SessionOption {
	return func(s *ExecutionSession) {
		s.staged = fsys
	}
}

// WithCaptureLimit caps each capture buffer at n bytes.
func WithCaptureLimit(n int) SessionOption {
	return func(s *ExecutionSession) {
		s.outputLimit = n
	}
}

// WithTrapOnGrowFailure makes a denied growth abort the run instead of
// failing the guest's grow instruction.
func WithTrapOnGrowFailure() SessionOption {
	return func(s *ExecutionSession) {
		s.trapOnGrowFailure = true
	}
}

// NewExecutionSession creates the context for one run. memoryCeiling is in
// bytes; nil leaves memory bounded only by the engine. snippet is handed to
// the guest on stdin unparsed.
func NewExecutionSession(memoryCeiling *uint64, snippet string, opts ...SessionOption) *ExecutionSession {
	s := &ExecutionSession{
		id:           uuid.NewString(),
		snippet:      snippet,
		tableCeiling: Unbounded,
	}

	for _, opt := range opts {
		opt(s)
	}

	ceiling := Unbounded
	if memoryCeiling != nil {
		ceiling = *memoryCeiling
	}
	s.limiter = NewResourceLimiter(ceiling, s.tableCeiling, s.trapOnGrowFailure)

	s.stdout = NewCaptureBuffer(s.outputLimit)
	s.stderr = NewCaptureBuffer(s.outputLimit)
	s.stdin = strings.NewReader(snippet)
	if s.inheritStdio {
		s.out, s.errOut = os.Stdout, os.Stderr
	} else {
		s.out, s.errOut = s.stdout, s.stderr
	}

	return s
}

// ID identifies the run in logs.
func (s *ExecutionSession) ID() string { return s.id }

// Snippet returns the payload handed to the guest.
func (s *ExecutionSession) Snippet() string { return s.snippet }

// Limiter returns the session's ResourceLimiter.
func (s *ExecutionSession) Limiter() *ResourceLimiter { return s.limiter }

// Stdout returns the buffer capturing the guest's standard output.
func (s *ExecutionSession) Stdout() *CaptureBuffer { return s.stdout }

// Stderr returns the buffer capturing the guest's standard error.
func (s *ExecutionSession) Stderr() *CaptureBuffer { return s.stderr }

// Staged reports whether a filesystem is mounted for the guest.
func (s *ExecutionSession) Staged() bool { return s.staged != nil }

// MemoryGrowing delegates to the session's limiter.
func (s *ExecutionSession) MemoryGrowing(current, desired, maximum uint64) (bool, error) {
	return s.limiter.MemoryGrowing(current, desired, maximum)
}

// TableGrowing delegates to the session's limiter.
func (s *ExecutionSession) TableGrowing(current, desired, maximum uint64) (bool, error) {
	return s.limiter.TableGrowing(current, desired, maximum)
}

// moduleConfig describes the guest's system interface for this run. The
// module is anonymous so concurrent runs never collide on a name, and no
// start function runs during instantiation. Clocks and randomness keep
// wazero's deterministic defaults.
func (s *ExecutionSession) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdin(s.stdin).
		WithStdout(s.out).
		WithStderr(s.errOut)
	if s.staged != nil {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithFSMount(s.staged, StagingMountPoint))
	}
	return cfg
}
