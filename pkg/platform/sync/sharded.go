// Package sync holds concurrency primitives shared by the in-memory stores.
package sync

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex serializes operations per key without a global lock. Keys
// hash onto a fixed set of shards, so transitions on distinct consents only
// contend when their keys collide.
type ShardedMutex struct {
	shards [32]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the shard owning key.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the shard owning key.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

func (m *ShardedMutex) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck // fnv never errors
	return int(h.Sum32() % uint32(len(m.shards)))
}
