package sandbox

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/staging"
)

// ConfigFromSettings converts the sandbox section of the application
// configuration. Zero limits become unset ceilings.
func ConfigFromSettings(settings config.SandboxConfig) SandboxConfig {
	var cfg SandboxConfig
	if settings.MemoryLimitMB > 0 {
		cfg.MemoryLimitMB = Limit(uint64(settings.MemoryLimitMB))
	}
	if settings.TimeoutMS > 0 {
		cfg.TimeoutMS = Limit(uint64(settings.TimeoutMS))
	}
	return cfg
}

// NewFromConfig creates a sandbox with its own engine from the application
// configuration.
func NewFromConfig(logger *zap.Logger, cfg *config.Config, store *staging.Store) (*Sandbox, error) {
	var runtimeOpts []RuntimeOption
	runtimeOpts = append(runtimeOpts, WithRuntimeLogger(logger))
	if cfg.Sandbox.Interpreter {
		runtimeOpts = append(runtimeOpts, WithInterpreter())
	}
	rt, err := NewRuntime(context.Background(), runtimeOpts...)
	if err != nil {
		return nil, err
	}

	sandboxCfg := ConfigFromSettings(cfg.Sandbox)
	opts := []Option{
		WithLogger(logger),
		WithRuntime(rt),
		WithStagingStore(store),
		WithStagingMount(cfg.Sandbox.MountStaging),
		WithOutputLimit(cfg.Sandbox.MaxOutputBytes),
	}
	if cfg.Sandbox.TableLimit > 0 {
		opts = append(opts, WithTableLimit(uint64(cfg.Sandbox.TableLimit)))
	}

	sb, err := New(&sandboxCfg, opts...)
	if err != nil {
		return nil, multierr.Append(err, rt.Close(context.Background()))
	}
	sb.ownsRuntime = true

	logger.Info("sandbox created",
		zap.Int64("sandbox.memory_limit_mb", cfg.Sandbox.MemoryLimitMB),
		zap.Int64("sandbox.timeout_ms", cfg.Sandbox.TimeoutMS),
		zap.Uint64("fuel", sandboxCfg.Fuel()),
		zap.Bool("sandbox.mount_staging", cfg.Sandbox.MountStaging),
		zap.Bool("sandbox.interpreter", cfg.Sandbox.Interpreter))

	return sb, nil
}
