package util

import (
	"github.com/OneOfOne/xxhash"
)

// HashCode 计算键的64位哈希值
func HashCode(key []byte) uint64 {
	return xxhash.Checksum64(key)
}

// HashString hashes a string key.
func HashString(key string) uint64 {
	return xxhash.ChecksumString64(key)
}
