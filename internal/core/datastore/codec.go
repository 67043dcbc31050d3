package datastore

import (
	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// 键布局，均位于 "ds/" 之下
var (
	prefixData     = []byte("d/")
	prefixSequence = []byte("s/")
	prefixRemoved  = []byte("r/")
)

func dataKey(hash []byte) []byte     { return append(append([]byte(nil), prefixData...), hash...) }
func sequenceKey(hash []byte) []byte { return append(append([]byte(nil), prefixSequence...), hash...) }
func removedKey(hash []byte) []byte  { return append(append([]byte(nil), prefixRemoved...), hash...) }

// encodeSequence 以 uvarint 保存，负序号按位解释
func encodeSequence(seq int32) []byte {
	return varint.ToUvarint(uint64(uint32(seq)))
}

func decodeSequence(b []byte) (int32, error) {
	v, n, err := varint.FromUvarint(b)
	if err != nil || n != len(b) || v > 0xffffffff {
		return 0, engine.ErrCorrupted
	}
	return int32(uint32(v)), nil
}
