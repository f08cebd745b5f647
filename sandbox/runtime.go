package sandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Capabilities names the WASI preview1 functions a guest may import.
type Capabilities []string

// StdioCapabilities is the minimal surface: stdio, exit, and the startup
// calls every wasip1 program makes (arguments, environment, clocks,
// randomness, descriptor probing). With no preopened directories the probes
// find nothing.
var StdioCapabilities = Capabilities{
	"args_get", "args_sizes_get",
	"environ_get", "environ_sizes_get",
	"clock_res_get", "clock_time_get",
	"fd_close", "fd_fdstat_get", "fd_fdstat_set_flags",
	"fd_prestat_get", "fd_prestat_dir_name",
	"fd_read", "fd_seek", "fd_write",
	"proc_exit", "random_get", "sched_yield",
}

// FilesystemCapabilities are granted on top of StdioCapabilities when a
// staged filesystem is mounted.
var FilesystemCapabilities = Capabilities{
	"fd_advise", "fd_filestat_get", "fd_pread", "fd_readdir", "fd_tell",
	"path_filestat_get", "path_open", "path_readlink",
}

// Runtime owns the compiled-code engine. It is created once and shared,
// read-only, by every run; all methods are safe for concurrent use.
//
// wazero executes synchronously on the calling goroutine, so there is no
// asynchronous mode to disable. CPU-budget accounting is enabled by
// compiling every module with the fuel listener.
type Runtime struct {
	engine    wazero.Runtime
	cache     wazero.CompilationCache
	hostFuncs map[string]struct{}
	logger    *zap.Logger
}

type runtimeOptions struct {
	logger      *zap.Logger
	interpreter bool
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeOptions)

// WithRuntimeLogger sets the logger used by the runtime.
func WithRuntimeLogger(logger *zap.Logger) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

// WithInterpreter forces the interpreter engine instead of the compiler.
func WithInterpreter() RuntimeOption {
	return func(o *runtimeOptions) {
		o.interpreter = true
	}
}

// NewRuntime creates the engine and instantiates the WASI preview1 host
// module the linker binds guests against.
func NewRuntime(ctx context.Context, opts ...RuntimeOption) (*Runtime, error) {
	o := runtimeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	base := wazero.NewRuntimeConfig()
	if o.interpreter {
		base = wazero.NewRuntimeConfigInterpreter()
	}
	cache := wazero.NewCompilationCache()
	engine := wazero.NewRuntimeWithConfig(ctx, base.
		WithCloseOnContextDone(true).
		WithCompilationCache(cache))

	if _, err := wasi_snapshot_preview1.NewBuilder(engine).Instantiate(meteredContext(ctx)); err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("%w: instantiate %s: %w", ErrEngine, wasi_snapshot_preview1.ModuleName, err),
			engine.Close(ctx),
			cache.Close(ctx),
		)
	}
	host := engine.Module(wasi_snapshot_preview1.ModuleName)
	if host == nil {
		return nil, multierr.Combine(
			fmt.Errorf("%w: %s not registered", ErrEngine, wasi_snapshot_preview1.ModuleName),
			engine.Close(ctx),
			cache.Close(ctx),
		)
	}
	hostFuncs := make(map[string]struct{})
	for name := range host.ExportedFunctionDefinitions() {
		hostFuncs[name] = struct{}{}
	}

	o.logger.Debug("wasm runtime created",
		zap.Bool("interpreter", o.interpreter),
		zap.Int("host_functions", len(hostFuncs)))

	return &Runtime{
		engine:    engine,
		cache:     cache,
		hostFuncs: hostFuncs,
		logger:    o.logger,
	}, nil
}

// meteredContext makes every module compiled under it charge fuel.
func meteredContext(ctx context.Context) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, fuelListenerFactory{})
}

// CreateLinker returns a linker granting caps. Every name must be a
// function the host module provides.
func (r *Runtime) CreateLinker(caps Capabilities) (*Linker, error) {
	allowed := make(map[string]struct{}, len(caps))
	for _, name := range caps {
		if _, ok := r.hostFuncs[name]; !ok {
			return nil, fmt.Errorf("%w: host does not provide %s.%s", ErrLink, wasi_snapshot_preview1.ModuleName, name)
		}
		allowed[name] = struct{}{}
	}
	return &Linker{runtime: r, allowed: allowed}, nil
}

// CreateStore wraps a session in an execution context. The session's
// limiter becomes the allocator of every memory the guest instantiates.
func (r *Runtime) CreateStore(session *ExecutionSession) *Store {
	return &Store{session: session}
}

// LoadModule compiles a guest binary. Compiling the same binary again hits
// the runtime's compilation cache.
func (r *Runtime) LoadModule(ctx context.Context, bin []byte) (*Module, error) {
	decls, err := scanDeclarations(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: load module: %w", ErrRuntime, err)
	}
	compiled, err := r.engine.CompileModule(meteredContext(ctx), bin)
	if err != nil {
		return nil, fmt.Errorf("%w: compile module: %w", ErrRuntime, err)
	}
	return &Module{compiled: compiled, decls: decls}, nil
}

// Close releases the engine and everything compiled by it.
func (r *Runtime) Close(ctx context.Context) error {
	return multierr.Combine(r.engine.Close(ctx), r.cache.Close(ctx))
}

// Module is a compiled guest binary plus the declarations the host checks
// before instantiating it.
type Module struct {
	compiled wazero.CompiledModule
	decls    *declarations
}

// ExportsFunction reports whether the module exports a function name.
func (m *Module) ExportsFunction(name string) bool {
	_, ok := m.compiled.ExportedFunctions()[name]
	return ok
}

// Store is the execution context of one run: the session plus its fuel
// meter.
type Store struct {
	session *ExecutionSession
	meter   fuelMeter
}

// Session returns the wrapped session.
func (s *Store) Session() *ExecutionSession { return s.session }

// SetFuel replaces the remaining budget.
func (s *Store) SetFuel(fuel uint64) { s.meter.set(fuel) }

// Fuel returns the remaining budget.
func (s *Store) Fuel() uint64 { return s.meter.remaining }

// FuelConsumed returns the fuel charged so far.
func (s *Store) FuelConsumed() uint64 { return s.meter.consumed }

func (s *Store) context(ctx context.Context) context.Context {
	ctx = experimental.WithMemoryAllocator(ctx, s.session.limiter)
	return withFuelMeter(ctx, &s.meter)
}

// Linker binds guest imports to the granted host capabilities.
type Linker struct {
	runtime *Runtime
	allowed map[string]struct{}
}

// Allows reports whether a host function is granted.
func (l *Linker) Allows(name string) bool {
	_, ok := l.allowed[name]
	return ok
}

// Resolve checks that every import of m is a granted host function.
func (l *Linker) Resolve(m *Module) error {
	for _, imp := range m.decls.Imports {
		if imp.Module != wasi_snapshot_preview1.ModuleName || imp.Kind != importFunc {
			return fmt.Errorf("%w: unsupported import %s.%s (kind %d)", ErrLink, imp.Module, imp.Name, imp.Kind)
		}
		if !l.Allows(imp.Name) {
			return fmt.Errorf("%w: capability %s.%s not granted", ErrLink, imp.Module, imp.Name)
		}
	}
	return nil
}

// Instantiate resolves m, admits its declared memories and tables through
// the store's limiter, and instantiates it without running any start
// function.
func (l *Linker) Instantiate(ctx context.Context, store *Store, m *Module) (*Instance, error) {
	if err := l.Resolve(m); err != nil {
		return nil, err
	}
	if err := admit(store.session.limiter, m.decls); err != nil {
		return nil, err
	}
	mod, err := l.runtime.engine.InstantiateModule(store.context(ctx), m.compiled, store.session.moduleConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate: %w", ErrRuntime, err)
	}
	return &Instance{module: mod, store: store}, nil
}

// admit puts each declared memory and table to the limiter before any
// backing store exists. Tables have no runtime growth hook in the engine,
// so a table is also refused when it could grow past the ceiling.
func admit(limiter *ResourceLimiter, decls *declarations) error {
	for i, mem := range decls.Memories {
		ok, err := limiter.MemoryGrowing(0, pagesToBytes(mem.Min), pagesToBytes(mem.Max))
		if err != nil {
			return fmt.Errorf("%w: memory %d: %w", ErrRuntime, i, err)
		}
		if !ok {
			return fmt.Errorf("%w: memory %d: initial size of %d pages exceeds the memory limit", ErrRuntime, i, mem.Min)
		}
	}
	for i, table := range decls.Tables {
		ok, err := limiter.TableGrowing(0, table.Min, table.Max)
		if err == nil && ok {
			ok, err = limiter.TableGrowing(table.Min, table.Max, table.Max)
		}
		if err != nil {
			return fmt.Errorf("%w: table %d: %w", ErrRuntime, i, err)
		}
		if !ok {
			return fmt.Errorf("%w: table %d: size %d..%d exceeds the table limit", ErrRuntime, i, table.Min, table.Max)
		}
	}
	return nil
}

func pagesToBytes(pages uint64) uint64 {
	if pages == Unbounded || pages > Unbounded/wasmPageSize {
		return Unbounded
	}
	return pages * wasmPageSize
}

// Instance is an instantiated guest bound to one store.
type Instance struct {
	module api.Module
	store  *Store
}

// Call invokes a parameterless export on the calling goroutine.
func (i *Instance) Call(ctx context.Context, name string) error {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("%w: export %q not found", ErrRuntime, name)
	}
	if params := fn.Definition().ParamTypes(); len(params) != 0 {
		return fmt.Errorf("%w: export %q takes %d parameters", ErrRuntime, name, len(params))
	}
	_, err := fn.Call(i.store.context(ctx))
	return err
}

// Close releases the instance's memory.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
