package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
)

func TestNewFromConfig(t *testing.T) {
	t.Run("no manifest", func(t *testing.T) {
		store, err := NewFromConfig(&config.Config{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("manifest", func(t *testing.T) {
		manifest := filepath.Join(t.TempDir(), "staging.yaml")
		require.NoError(t, os.WriteFile(manifest, []byte("files:\n  a.txt: hello\n"), 0o600))

		cfg := &config.Config{Staging: config.StagingConfig{Manifest: manifest}}
		store, err := NewFromConfig(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, store.Paths())
	})

	t.Run("missing manifest", func(t *testing.T) {
		cfg := &config.Config{Staging: config.StagingConfig{Manifest: filepath.Join(t.TempDir(), "nope.yaml")}}
		_, err := NewFromConfig(cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}
