package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReference(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		ref, err := NewReference()
		require.NoError(t, err)
		assert.Regexp(t, `^BK[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{8}$`, ref)
		seen[ref] = struct{}{}
	}
	assert.Greater(t, len(seen), 495)
}
