package sandbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/guest"
	"github.com/isdmx/agentbox/staging"
)

// DefaultOutputLimit caps each captured stream when no limit is configured.
const DefaultOutputLimit = 1 << 20

// Sandbox runs snippets through the guest runner, one isolated session per
// call. It is safe for concurrent use.
type Sandbox struct {
	config       SandboxConfig
	runtime      *Runtime
	ownsRuntime  bool
	logger       *zap.Logger
	guest        []byte
	staging      *staging.Store
	mountStaging bool
	outputLimit  int
	tableCeiling uint64
	trapOnGrow   bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the sandbox logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithRuntime shares an existing engine. The sandbox does not close it.
func WithRuntime(rt *Runtime) Option {
	return func(s *Sandbox) {
		s.runtime = rt
	}
}

// WithGuestModule replaces the embedded runner with another guest binary
// exporting the same parameterless entry point.
//
// Fuel is charged on every function entry, guest or host. A loop that makes
// no calls consumes no fuel and is only stopped by the backstop deadline, so
// its outcome depends on wall-clock time rather than on the budget alone.
// The embedded runner calls into the host on every iteration and is fully
// metered.
func WithGuestModule(bin []byte) Option {
	return func(s *Sandbox) {
		s.guest = slices.Clone(bin)
	}
}

// WithStagingStore sets the staging store backing the /staging mount.
func WithStagingStore(store *staging.Store) Option {
	return func(s *Sandbox) {
		s.staging = store
	}
}

// WithStagingMount mounts a snapshot of the staging store into every run.
func WithStagingMount(enabled bool) Option {
	return func(s *Sandbox) {
		s.mountStaging = enabled
	}
}

// WithOutputLimit caps each captured stream at n bytes. Zero or negative
// disables the cap.
func WithOutputLimit(n int) Option {
	return func(s *Sandbox) {
		s.outputLimit = n
	}
}

// WithTableLimit bounds every guest table to n elements.
func WithTableLimit(n uint64) Option {
	return func(s *Sandbox) {
		s.tableCeiling = n
	}
}

// WithTrapOnMemoryLimit aborts a run whose memory growth is denied instead
// of failing the guest's grow instruction.
func WithTrapOnMemoryLimit() Option {
	return func(s *Sandbox) {
		s.trapOnGrow = true
	}
}

// New creates a sandbox. A nil cfg selects DefaultSandboxConfig; a zero
// limit fails with ErrInvalidConfig. Unless
// WithRuntime is given, the sandbox creates and owns its engine.
func New(cfg *SandboxConfig, opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		config:       DefaultSandboxConfig(),
		logger:       zap.NewNop(),
		guest:        guest.Runner(),
		outputLimit:  DefaultOutputLimit,
		tableCeiling: Unbounded,
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.config = cfg.Clone()
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.staging == nil {
		s.staging = staging.New()
	}
	if s.runtime == nil {
		rt, err := NewRuntime(context.Background(), WithRuntimeLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.runtime = rt
		s.ownsRuntime = true
	}

	return s, nil
}

// Config returns a copy of the sandbox configuration.
func (s *Sandbox) Config() SandboxConfig {
	return s.config.Clone()
}

// Staging returns the staging store.
func (s *Sandbox) Staging() *staging.Store {
	return s.staging
}

// Run executes code and returns the guest's standard output. Guest faults
// and budget exhaustion are not errors: whatever the guest wrote before
// stopping is returned. Errors are reserved for setup failures.
func (s *Sandbox) Run(ctx context.Context, code string) (string, error) {
	result, err := s.Execute(ctx, code)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Execute runs code in a fresh session and reports everything observed.
func (s *Sandbox) Execute(ctx context.Context, code string) (ExecuteResult, error) {
	start := time.Now()

	session, caps, err := s.newSession(code)
	if err != nil {
		return ExecuteResult{}, err
	}
	log := s.logger.With(zap.String("run_id", session.ID()))
	log.Debug("sandbox run started", zap.Int("snippet_len", len(code)))

	linker, err := s.runtime.CreateLinker(caps)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	store := s.runtime.CreateStore(session)

	module, err := s.runtime.LoadModule(ctx, s.guest)
	if err != nil {
		return ExecuteResult{}, err
	}
	if !module.ExportsFunction(guest.EntryPoint) {
		return ExecuteResult{}, fmt.Errorf("%w: guest does not export %q", ErrRuntime, guest.EntryPoint)
	}

	store.SetFuel(s.config.Fuel())

	instance, err := linker.Instantiate(ctx, store, module)
	if err != nil {
		if !errors.Is(err, ErrRuntime) {
			err = fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		return ExecuteResult{}, err
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			log.Debug("failed to close guest instance", zap.Error(err))
		}
	}()

	backstopFired, callErr := s.invoke(ctx, instance, store)
	outcome, exitCode := classify(callErr, backstopFired)

	result := ExecuteResult{
		RunID:           session.ID(),
		Stdout:          session.Stdout().Snapshot(),
		Stderr:          session.Stderr().Snapshot(),
		StdoutTruncated: session.Stdout().Truncated(),
		StderrTruncated: session.Stderr().Truncated(),
		Outcome:         outcome,
		ExitCode:        exitCode,
		FuelConsumed:    store.FuelConsumed(),
		PeakMemory:      session.Limiter().PeakMemory(),
		MemoryDenials:   session.Limiter().Denials(),
		Duration:        time.Since(start),
	}
	if outcome != OutcomeCompleted {
		result.Err = callErr
	}

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Uint32("exit_code", exitCode),
		zap.Uint64("fuel_consumed", result.FuelConsumed),
		zap.Uint64("peak_memory", result.PeakMemory),
		zap.Int("memory_denials", result.MemoryDenials),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Duration("duration", result.Duration),
	}
	switch outcome {
	case OutcomeBudgetExhausted:
		log.Warn("guest exhausted its cpu budget", fields...)
	case OutcomeFaulted:
		log.Warn("guest faulted", append(fields, zap.Error(result.Err))...)
	default:
		log.Info("sandbox run completed", fields...)
	}

	return result, nil
}

// Close releases the engine when the sandbox owns it.
func (s *Sandbox) Close(ctx context.Context) error {
	if !s.ownsRuntime {
		return nil
	}
	return s.runtime.Close(ctx)
}

func (s *Sandbox) newSession(code string) (*ExecutionSession, Capabilities, error) {
	opts := []SessionOption{
		WithCaptureLimit(s.outputLimit),
		WithTableCeiling(s.tableCeiling),
	}
	if s.trapOnGrow {
		opts = append(opts, WithTrapOnGrowFailure())
	}

	caps := StdioCapabilities
	if s.mountStaging {
		snap, err := s.staging.Snapshot()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: staging snapshot: %w", ErrRuntime, err)
		}
		opts = append(opts, WithStagedFS(snap))
		caps = slices.Concat(StdioCapabilities, FilesystemCapabilities)
	}

	return NewExecutionSession(s.config.MemoryLimitBytes(), code, opts...), caps, nil
}

// invoke calls the entry point under the backstop deadline derived from
// the store's budget. backstopFired is true when that deadline, and not the
// caller's context, ended the call.
func (s *Sandbox) invoke(ctx context.Context, instance *Instance, store *Store) (backstopFired bool, err error) {
	callCtx := ctx
	if d, ok := backstopFor(store.Fuel()); ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	err = instance.Call(callCtx, guest.EntryPoint)
	backstopFired = callCtx.Err() != nil && ctx.Err() == nil
	return backstopFired, err
}

// classify maps the entry point's error onto an Outcome.
func classify(err error, backstopFired bool) (Outcome, uint32) {
	if err == nil {
		return OutcomeCompleted, 0
	}
	if errors.Is(err, ErrBudgetExhausted) {
		return OutcomeBudgetExhausted, 0
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch code := exitErr.ExitCode(); code {
		case 0:
			return OutcomeCompleted, 0
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			if backstopFired {
				return OutcomeBudgetExhausted, 0
			}
			return OutcomeFaulted, code
		default:
			return OutcomeFaulted, code
		}
	}
	return OutcomeFaulted, 0
}
