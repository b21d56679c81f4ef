package directory

import (
	"hash/fnv"
	"slices"
	"sync"
)

const numKeyShards = 128

// keyLocks serializes mutations per phone number. Keys are spread over a fixed number of mutexes
// so the table never grows; two keys sharing a shard simply wait for each other.
type keyLocks struct {
	shards [numKeyShards]sync.Mutex
}

// lock acquires the shards of all keys in ascending shard order and returns the function that
// releases them again.
func (l *keyLocks) lock(keys ...string) (unlock func()) {
	indexes := make([]int, 0, len(keys))
	for _, key := range keys {
		indexes = append(indexes, shardOf(key))
	}
	slices.Sort(indexes)
	indexes = slices.Compact(indexes)
	for _, i := range indexes {
		l.shards[i].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			l.shards[indexes[i]].Unlock()
		}
	}
}

func shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % numKeyShards)
}
