// Package bloom is a two-hash membership filter over TxId keys, adapted
// from the distilled teacher's pkg/query BloomFilter (which filtered
// int64 keys with one xxhash and one murmur3 bucket). Here it records
// every TxId the file log store has seen; after the authoritative
// open-map lookup, the store consults it ("was this TxId definitely never
// seen") to skip an on-disk existence check.
package bloom

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"

	"github.com/opcoordio/txlog/pkg/txid"
)

// Set is a fixed-size bloom filter over txid.TxId keys.
type Set struct {
	size uint
	bits *bitset.BitSet
}

// NewSet returns an empty Set sized for roughly capacity concurrently-open
// TxIds at a low false-positive rate.
func NewSet(capacity int) *Set {
	size := uint(capacity * 8)
	if size < 64 {
		size = 64
	}
	return &Set{size: size, bits: bitset.New(size)}
}

// Add records id as a probable member of the set.
func (s *Set) Add(id txid.TxId) {
	s.bits.Set(s.xxBucket(id))
	s.bits.Set(s.murmurBucket(id))
}

// MaybeContains reports whether id might be in the set. A false result is
// authoritative (id is definitely absent); a true result must still be
// confirmed against the real map, as with any bloom filter.
func (s *Set) MaybeContains(id txid.TxId) bool {
	return s.bits.Test(s.xxBucket(id)) && s.bits.Test(s.murmurBucket(id))
}

// Reset clears every bit. The file store calls it on Close; a later
// directory scan re-adds the TxIds it finds.
func (s *Set) Reset() {
	s.bits.ClearAll()
}

func (s *Set) xxBucket(id txid.TxId) uint {
	return uint(xxhash.Sum64(id[:]) % uint64(s.size))
}

func (s *Set) murmurBucket(id txid.TxId) uint {
	return uint(murmur3.Sum64(id[:]) % uint64(s.size))
}
