package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerBinary(t *testing.T) {
	bin := Runner()
	require.GreaterOrEqual(t, len(bin), 8)
	assert.Equal(t, []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}, bin[:8])

	t.Run("ReturnsCopy", func(t *testing.T) {
		bin[0] = 0xff
		assert.Equal(t, byte(0x00), Runner()[0])
	})
}
