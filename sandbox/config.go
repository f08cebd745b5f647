package sandbox

import (
	"fmt"
	"math"
)

// Default limits applied when no SandboxConfig is supplied.
const (
	DefaultMemoryLimitMB uint64 = 512
	DefaultTimeoutMS     uint64 = 10000
)

// BytesPerMB converts memory_limit_mb into bytes.
const BytesPerMB = 1024 * 1024

// SandboxConfig holds the per-sandbox resource ceilings. A nil field means
// no explicit ceiling for that dimension.
type SandboxConfig struct {
	MemoryLimitMB *uint64
	TimeoutMS     *uint64
}

// DefaultSandboxConfig returns the configuration used when none is given.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitMB: Limit(DefaultMemoryLimitMB),
		TimeoutMS:     Limit(DefaultTimeoutMS),
	}
}

// Limit returns a pointer to v, for filling optional SandboxConfig fields.
func Limit(v uint64) *uint64 {
	return &v
}

// Clone returns a deep copy so callers never share the optional fields.
func (c SandboxConfig) Clone() SandboxConfig {
	var out SandboxConfig
	if c.MemoryLimitMB != nil {
		out.MemoryLimitMB = Limit(*c.MemoryLimitMB)
	}
	if c.TimeoutMS != nil {
		out.TimeoutMS = Limit(*c.TimeoutMS)
	}
	return out
}

// Validate rejects zero limits. A set field must be a positive integer.
func (c SandboxConfig) Validate() error {
	if c.MemoryLimitMB != nil && *c.MemoryLimitMB == 0 {
		return fmt.Errorf("%w: memory_limit_mb must be positive", ErrInvalidConfig)
	}
	if c.TimeoutMS != nil && *c.TimeoutMS == 0 {
		return fmt.Errorf("%w: timeout_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

// MemoryLimitBytes returns the memory ceiling in bytes, or nil when unset.
func (c SandboxConfig) MemoryLimitBytes() *uint64 {
	if c.MemoryLimitMB == nil {
		return nil
	}
	mb := *c.MemoryLimitMB
	if mb > math.MaxUint64/BytesPerMB {
		return Limit(Unbounded)
	}
	return Limit(mb * BytesPerMB)
}

// Fuel returns the CPU budget for one run.
func (c SandboxConfig) Fuel() uint64 {
	if c.TimeoutMS == nil {
		return math.MaxUint64
	}
	return FuelForTimeout(*c.TimeoutMS)
}
