// Package hash provides the checksum used for on-disk and in-envelope
// integrity checks.
//
// CRC32-Castagnoli is hardware accelerated on x86 (SSE4.2) and ARM, and is
// the standard choice for storage corruption detection (iSCSI, RocksDB,
// LevelDB). It is not cryptographically secure and must not be used for
// tamper detection.
package hash

import (
	"hash"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}
