// Package bloom implements a tunable Bloom filter with a fixed
// wire format so that a filter built by one process can be read back
// by another without knowing anything about the hash family beyond
// "this package".
package bloom

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// ErrCorrupt is returned when a serialized filter is shorter than the
// fixed 8-byte header, or the packed bit payload is shorter than the
// declared size requires.
var ErrCorrupt = errors.New("bloom: corrupt filter")

// Filter is a bit-array membership filter with no false negatives.
// The zero value is not usable; construct with New.
type Filter struct {
	bits  *bitset.BitSet
	size  uint32 // size in bits
	hashN uint32 // number of hash functions
}

// New builds a Filter sized for expectedElements members at the given
// false positive rate. expectedElements of 0 is treated as 1 so the
// sizing formulas never divide by zero.
func New(expectedElements int, falsePositiveRate float64) *Filter {
	n := expectedElements
	if n <= 0 {
		n = 1
	}

	size := optimalSize(n, falsePositiveRate)
	hashN := optimalHashCount(size, n)

	return &Filter{
		bits:  bitset.New(uint(size)),
		size:  size,
		hashN: hashN,
	}
}

func optimalSize(n int, p float64) uint32 {
	size := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if size < 1 {
		size = 1
	}
	return uint32(size)
}

func optimalHashCount(size uint32, n int) uint32 {
	count := math.Ceil((float64(size) / float64(n)) * math.Ln2)
	if count < 1 {
		count = 1
	}
	return uint32(count)
}

// Insert sets the k bit positions derived from element.
func (f *Filter) Insert(element []byte) {
	for i := uint32(0); i < f.hashN; i++ {
		f.bits.Set(uint(f.position(element, i)))
	}
}

// MightContain reports whether element may have been inserted. It
// never returns false for an element that was actually inserted, but
// may return true for one that was not (a false positive).
func (f *Filter) MightContain(element []byte) bool {
	for i := uint32(0); i < f.hashN; i++ {
		if !f.bits.Test(uint(f.position(element, i))) {
			return false
		}
	}
	return true
}

// position computes the i-th hash position for element, mod the bit
// array size. The element is mixed with an 8-byte little-endian
// encoding of the seed i into the hasher state before reducing; the
// hash family (FNV-1a 64) is part of this package's implementation,
// not its wire contract, and must stay fixed across versions so a
// filter serialized by an old build still round-trips through
// might-contain checks after deserialization by a new one.
func (f *Filter) position(element []byte, seed uint32) uint32 {
	h := fnv.New64a()
	_, _ = h.Write(element)
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], uint64(seed))
	_, _ = h.Write(seedBuf[:])
	return uint32(h.Sum64() % uint64(f.size))
}

// Bytes serializes the filter to
// [u32 LE size_in_bits][u32 LE hash_count][packed bits, LSB-first per byte].
func (f *Filter) Bytes() []byte {
	byteLen := (f.size + 7) / 8
	out := make([]byte, 8+byteLen)
	binary.LittleEndian.PutUint32(out[0:4], f.size)
	binary.LittleEndian.PutUint32(out[4:8], f.hashN)
	for i := uint32(0); i < f.size; i++ {
		if f.bits.Test(uint(i)) {
			out[8+i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// FromBytes parses a filter previously produced by Bytes. Input
// shorter than the 8-byte header is a format error.
func FromBytes(b []byte) (*Filter, error) {
	if len(b) < 8 {
		return nil, ErrCorrupt
	}
	size := binary.LittleEndian.Uint32(b[0:4])
	hashN := binary.LittleEndian.Uint32(b[4:8])
	byteLen := (size + 7) / 8
	payload := b[8:]
	if uint32(len(payload)) < byteLen {
		return nil, ErrCorrupt
	}

	bs := bitset.New(uint(size))
	for i := uint32(0); i < size; i++ {
		if payload[i/8]&(1<<(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}

	return &Filter{bits: bs, size: size, hashN: hashN}, nil
}
