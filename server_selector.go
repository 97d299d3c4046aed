package kvcache

import (
	"github.com/zeebo/xxh3"

	"github.com/pior/kvcache/internal/jumphash"
)

// ServerSelector picks the index of the server for a key.
// It must return a value in [0, serverCount).
type ServerSelector func(key string, serverCount int) int

// DefaultServerSelector hashes the key with xxh3 and maps it with Jump Hash,
// which moves few keys when servers are added or removed.
func DefaultServerSelector(key string, serverCount int) int {
	if serverCount == 1 {
		return 0
	}
	return jumphash.Hash(xxh3.HashString(key), serverCount)
}

// staticSelector is used in tests to always select a specific server.
func staticSelector(index int) ServerSelector {
	return func(key string, serverCount int) int {
		return index % serverCount
	}
}
