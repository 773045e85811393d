package reactions

import (
	"hash/fnv"
	"sync"
)

// keyMutex serializes work per string key using a fixed set of shards, so the
// lock table cannot grow without bound. Two unrelated keys can hash to the
// same shard; the collision costs one caller a brief wait behind another's
// transaction, never a wrong result, which is why a fixed array beats a
// per-key map that would need refcounted cleanup.
type keyMutex struct {
	shards [64]sync.Mutex
}

func (m *keyMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%uint32(len(m.shards))]
	mu.Lock()
	return mu
}
