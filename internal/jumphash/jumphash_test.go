package jumphash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashRange(t *testing.T) {
	require.Equal(t, 0, Hash(42, 0))
	require.Equal(t, 0, Hash(42, -1))
	require.Equal(t, 0, Hash(42, 1))

	for key := range uint64(1000) {
		b := Hash(key, 7)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 7)
	}
}

func TestHashMinimalMovement(t *testing.T) {
	const keys = 10000
	moved := 0
	for key := range uint64(keys) {
		before := Hash(key*0x9E3779B97F4A7C15, 9)
		after := Hash(key*0x9E3779B97F4A7C15, 10)
		if before != after {
			require.Equal(t, 9, after, "a key may only move to the new bucket")
			moved++
		}
	}
	// About 1/10 of the keys move.
	require.InDelta(t, keys/10, moved, keys/50)
}
