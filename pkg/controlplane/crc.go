package controlplane

import "hash/crc32"

// crcTable is the reflected 0xEDB88320 table, built once at startup.
var crcTable = crc32.MakeTable(crc32.IEEE)

// crcUpdate continues a running CRC32 over p. Start from 0; the initial and
// final inversions are applied internally, so chained calls yield the same
// value as a single call over the concatenated input.
func crcUpdate(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crcTable, p)
}

// Checksum returns the CRC32 clients must send in X-CRC32 for data.
func Checksum(data []byte) uint32 {
	return crcUpdate(0, data)
}
