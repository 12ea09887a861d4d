// Package crc is the CRC-32 collaborator named in spec §6: "standard IEEE
// polynomial 0xEDB88320, reflected, initial 0xFFFFFFFF, final xor
// 0xFFFFFFFF". That is exactly the table hash/crc32.IEEE computes, so this
// package is a one-line wrapper rather than a reimplementation.
package crc

import "hash/crc32"

// Checksum32 returns the IEEE CRC-32 of data.
func Checksum32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
