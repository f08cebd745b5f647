package sandbox

import "errors"

var (
	// ErrInvalidConfig reports a SandboxConfig with a zero limit.
	ErrInvalidConfig = errors.New("sandbox: invalid configuration")

	// ErrEngine reports that the compiled-code engine could not be set up.
	ErrEngine = errors.New("sandbox: engine setup failed")

	// ErrLink reports a guest import the host capability set cannot satisfy.
	ErrLink = errors.New("sandbox: guest imports cannot be linked")

	// ErrRuntime reports a failure in the setup chain of one run: linking,
	// loading or instantiating the guest. It points at the host or the build
	// artifact, not at the guest code.
	ErrRuntime = errors.New("sandbox: runtime error")

	// ErrBudgetExhausted is the trap raised when a run's fuel reaches zero.
	ErrBudgetExhausted = errors.New("sandbox: cpu budget exhausted")

	// ErrResourceLimit is raised by a limiter configured to trap instead of
	// denying a growth request.
	ErrResourceLimit = errors.New("sandbox: resource limit exceeded")
)
