package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/staging"
)

func TestConfigFromSettings(t *testing.T) {
	t.Run("limits", func(t *testing.T) {
		cfg := ConfigFromSettings(config.SandboxConfig{MemoryLimitMB: 64, TimeoutMS: 250})
		require.NotNil(t, cfg.MemoryLimitMB)
		require.NotNil(t, cfg.TimeoutMS)
		assert.Equal(t, uint64(64), *cfg.MemoryLimitMB)
		assert.Equal(t, uint64(250), *cfg.TimeoutMS)
		assert.Equal(t, uint64(64*BytesPerMB), *cfg.MemoryLimitBytes())
		assert.Equal(t, FuelForTimeout(250), cfg.Fuel())
	})

	t.Run("zero means unset", func(t *testing.T) {
		cfg := ConfigFromSettings(config.SandboxConfig{})
		assert.Nil(t, cfg.MemoryLimitMB)
		assert.Nil(t, cfg.TimeoutMS)
		assert.Nil(t, cfg.MemoryLimitBytes())
		assert.Equal(t, Unbounded, cfg.Fuel())
	})
}

func TestNewFromConfig(t *testing.T) {
	store := staging.New()
	require.NoError(t, store.Write("input.txt", []byte("from config")))

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			MemoryLimitMB:  16,
			TimeoutMS:      1000,
			MaxOutputBytes: 1 << 20,
			MountStaging:   true,
			Interpreter:    true,
		},
	}
	sb, err := NewFromConfig(zaptest.NewLogger(t), cfg, store)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, sb.Close(context.Background()))
	}()

	assert.Equal(t, uint64(16), *sb.Config().MemoryLimitMB)
	assert.Same(t, store, sb.Staging())

	out, err := sb.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, framed("hi"), out)
}

func TestSandboxConfigClone(t *testing.T) {
	orig := DefaultSandboxConfig()
	clone := orig.Clone()
	*clone.MemoryLimitMB = 1
	assert.Equal(t, DefaultMemoryLimitMB, *orig.MemoryLimitMB)

	assert.Nil(t, SandboxConfig{}.MemoryLimitBytes())
	assert.Equal(t, uint64(2*BytesPerMB), *SandboxConfig{MemoryLimitMB: Limit(2)}.MemoryLimitBytes())
	assert.Equal(t, Unbounded, *SandboxConfig{MemoryLimitMB: Limit(Unbounded)}.MemoryLimitBytes())
}
