package rhi

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// Structural hashes feed every get-or-create cache. They are FNV-1a over a
// fixed little-endian encoding of each field, so equal descriptions hash
// equally across process runs. Pointer values never take part; objects are
// referenced through their generation-tagged Handle instead.

func newHasher() hash.Hash64 { return fnv.New64a() }

func hashWriteUint8(h hash.Hash64, v uint8) {
	_, _ = h.Write([]byte{v})
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteFloat32(h hash.Hash64, v float32) {
	hashWriteUint32(h, math.Float32bits(v))
}

//nolint:gosec // G115: paths and entry points are short
func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		hashWriteUint8(h, 1)
	} else {
		hashWriteUint8(h, 0)
	}
}

func hashWriteHandle(h hash.Hash64, hd Handle) {
	hashWriteUint32(h, hd.Index)
	hashWriteUint32(h, hd.Generation)
}
