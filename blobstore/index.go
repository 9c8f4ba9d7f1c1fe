package blobstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hupe1980/cstcache/bytecode"
	"github.com/hupe1980/cstcache/internal/hash"
	"github.com/hupe1980/cstcache/model"
)

// The index manifest maps cache keys to entry metadata so lookups never
// require a directory scan. It is rewritten atomically on every mutation and
// protected by a CRC32C checksum; a corrupt manifest is treated as empty
// (entries are recoverable by re-parsing).

var indexMagic = [6]byte{'C', 'S', 'T', 'I', 'D', 'X'}

const indexVersion uint16 = 1

// index header: magic(6) version(2) crc32c(4).
const indexHeaderSize = 12

var errBadIndex = fmt.Errorf("blobstore: invalid index manifest")

func encodeIndex(entries []EntryMeta) []byte {
	payload := make([]byte, 0, len(entries)*48)
	payload = bytecode.AppendUvarint(payload, uint64(len(entries)))
	for _, m := range entries {
		payload = bytecode.AppendUvarint(payload, uint64(len(m.Key.Path)))
		payload = append(payload, m.Key.Path...)
		payload = binary.LittleEndian.AppendUint64(payload, m.Key.Hash)
		payload = append(payload, byte(m.Tier))
		payload = bytecode.AppendUvarint(payload, uint64(m.SizeBytes))
		payload = binary.LittleEndian.AppendUint64(payload, uint64(m.CreatedAt.UnixNano()))
		payload = binary.LittleEndian.AppendUint64(payload, uint64(m.LastAccessed.UnixNano()))
		payload = binary.LittleEndian.AppendUint32(payload, m.AccessCount)
	}

	out := make([]byte, indexHeaderSize, indexHeaderSize+len(payload))
	copy(out[0:6], indexMagic[:])
	binary.LittleEndian.PutUint16(out[6:8], indexVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	return append(out, payload...)
}

func decodeIndex(data []byte) ([]EntryMeta, error) {
	if len(data) < indexHeaderSize {
		return nil, errBadIndex
	}
	for i := range indexMagic {
		if data[i] != indexMagic[i] {
			return nil, errBadIndex
		}
	}
	if binary.LittleEndian.Uint16(data[6:8]) != indexVersion {
		return nil, errBadIndex
	}
	payload := data[indexHeaderSize:]
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(data[8:12]) {
		return nil, errBadIndex
	}

	off := 0
	count, n, err := bytecode.Uvarint(payload)
	if err != nil {
		return nil, errBadIndex
	}
	off += n
	if count > uint64(len(payload)) {
		return nil, errBadIndex
	}

	entries := make([]EntryMeta, 0, count)
	for i := uint64(0); i < count; i++ {
		pathLen, n, err := bytecode.Uvarint(payload[off:])
		if err != nil || pathLen > uint64(len(payload)-off-n) {
			return nil, errBadIndex
		}
		off += n
		path := string(payload[off : off+int(pathLen)])
		off += int(pathLen)

		// hash(8) + tier(1) follow, then size varint and two timestamps
		// plus the access counter.
		if len(payload)-off < 9 {
			return nil, errBadIndex
		}
		keyHash := binary.LittleEndian.Uint64(payload[off:])
		off += 8
		tier := model.Tier(payload[off])
		off++

		size, n, err := bytecode.Uvarint(payload[off:])
		if err != nil {
			return nil, errBadIndex
		}
		off += n

		if len(payload)-off < 20 {
			return nil, errBadIndex
		}
		created := int64(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
		accessed := int64(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
		accessCount := binary.LittleEndian.Uint32(payload[off:])
		off += 4

		entries = append(entries, EntryMeta{
			Key:          model.Key{Path: path, Hash: keyHash},
			Tier:         tier,
			SizeBytes:    int64(size),
			CreatedAt:    time.Unix(0, created),
			LastAccessed: time.Unix(0, accessed),
			AccessCount:  accessCount,
		})
	}
	return entries, nil
}
