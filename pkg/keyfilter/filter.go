// Package keyfilter implements a small two-hash-function membership filter
// over string keys. It tracks every key ever touched by the operation
// log's history, so a read can short-circuit a "definitely absent" lookup
// without touching the store.
package keyfilter

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over string keys.
type Filter struct {
	size uint
	bits *bitset.BitSet
}

// New returns an empty Filter sized for roughly n keys.
func New(n int) *Filter {
	size := uint(n*8 + 64)
	return &Filter{size: size, bits: bitset.New(size)}
}

// Add marks key as touched.
func (f *Filter) Add(key string) {
	f.bits.Set(f.xxIndex(key))
	f.bits.Set(f.murmurIndex(key))
}

// MightContain reports whether key may have been touched. false means key
// was definitely never touched; true is merely "maybe" - callers must still
// consult the store.
func (f *Filter) MightContain(key string) bool {
	return f.bits.Test(f.xxIndex(key)) && f.bits.Test(f.murmurIndex(key))
}

func (f *Filter) xxIndex(key string) uint {
	return uint(xxhash.Sum64([]byte(key)) % uint64(f.size))
}

func (f *Filter) murmurIndex(key string) uint {
	return uint(murmur3.Sum64([]byte(key)) % uint64(f.size))
}
