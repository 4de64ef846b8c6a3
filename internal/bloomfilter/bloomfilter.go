// Package bloomfilter implements a local, growable approximate-membership
// filter used to dedup candidate URLs before they are admitted to the
// frontier. It exists both as the fallback path when the KV service has no
// RedisBloom module, and as a pure reference implementation tests can
// check the Redis-backed path against.
package bloomfilter

import (
	"hash/fnv"
	"math"
	"sync"
)

const (
	targetFalsePositiveRate = 0.01
	shardCapacity           = 1 << 20 // entries per shard before growing
)

// shard is one fixed-size bit array with its own hash-function count, sized
// for targetFalsePositiveRate at shardCapacity entries.
type shard struct {
	bits    []uint64
	numBits uint64
	numHash uint64
}

func newShard(capacity int) *shard {
	numBits := optimalBits(capacity, targetFalsePositiveRate)
	numHash := optimalHashCount(numBits, capacity)
	return &shard{
		bits:    make([]uint64, (numBits+63)/64),
		numBits: numBits,
		numHash: numHash,
	}
}

func optimalBits(n int, p float64) uint64 {
	if n <= 0 {
		n = 1
	}
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	return uint64(math.Ceil(m))
}

func optimalHashCount(numBits uint64, n int) uint64 {
	if n <= 0 {
		n = 1
	}
	k := float64(numBits) / float64(n) * math.Ln2
	if k < 1 {
		k = 1
	}
	return uint64(math.Round(k))
}

// doubleHash derives numHash independent hash values from two FNV seeds via
// the Kirsch-Mitzenmacher technique (h_i = h1 + i*h2).
func doubleHash(key []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(key)
	h2 := fnv.New64()
	h2.Write(key)
	return h1.Sum64(), h2.Sum64()
}

func (s *shard) add(key []byte) {
	h1, h2 := doubleHash(key)
	for i := uint64(0); i < s.numHash; i++ {
		bit := (h1 + i*h2) % s.numBits
		s.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (s *shard) mayContain(key []byte) bool {
	h1, h2 := doubleHash(key)
	for i := uint64(0); i < s.numHash; i++ {
		bit := (h1 + i*h2) % s.numBits
		if s.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Filter is a scalable bloom filter: a chain of fixed-size shards, adding a
// new shard once the current one is estimated full, so the false-positive
// rate stays bounded as the URL set grows without needing to know the final
// size up front.
type Filter struct {
	mu      sync.Mutex
	shards  []*shard
	count   int
	current int // entries added to the newest shard
}

// New returns an empty Filter.
func New() *Filter {
	f := &Filter{}
	f.shards = append(f.shards, newShard(shardCapacity))
	return f
}

// Add records key as seen. It is idempotent w.r.t. MayContain but, like any
// Bloom filter, is not reversible (there is no Remove).
func (f *Filter) Add(key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current >= shardCapacity {
		f.shards = append(f.shards, newShard(shardCapacity))
		f.current = 0
	}
	f.shards[len(f.shards)-1].add(key)
	f.current++
	f.count++
}

// MayContain reports whether key was possibly added before. A false result
// is a guarantee; a true result may be a false positive, bounded at
// targetFalsePositiveRate per shard.
func (f *Filter) MayContain(key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.shards {
		if s.mayContain(key) {
			return true
		}
	}
	return false
}

// Count returns the number of Add calls made so far (not the number of
// distinct keys, if callers double-add).
func (f *Filter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
