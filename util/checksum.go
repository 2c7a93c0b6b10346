package util

import (
	"hash/crc32"
)

// Castagnoli is the CRC32C polynomial table used for all on-disk checksums.
var Castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Crc32C computes the CRC32C checksum of data in one shot.
func Crc32C(data []byte) uint32 {
	return crc32.Checksum(data, Castagnoli)
}

// Crc32CUpdate feeds another chunk into a running CRC32C checksum.
func Crc32CUpdate(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, Castagnoli, data)
}
