package coarsetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNow(t *testing.T) {
	require.WithinDuration(t, time.Now(), Now(), 2*Resolution)

	first := Now()
	require.Eventually(t, func() bool {
		return Now().After(first)
	}, time.Second, Resolution/5)
}

func TestSince(t *testing.T) {
	require.Zero(t, Since(time.Now().Add(time.Hour)))
	require.InDelta(t, time.Second, Since(time.Now().Add(-time.Second)), float64(2*Resolution))
}

// BenchmarkTimeNow/time-8         	35926340	         32.82 ns/op	       0 B/op	       0 allocs/op
// BenchmarkTimeNow/coarsetime-8   	609668066	         1.950 ns/op	       0 B/op	       0 allocs/op
func BenchmarkTimeNow(b *testing.B) {
	var t time.Time

	b.Run("time", func(b *testing.B) {
		for b.Loop() {
			t = time.Now()
		}
	})

	b.Run("coarsetime", func(b *testing.B) {
		for b.Loop() {
			t = Now()
		}
	})

	_ = t
}
