// Package hash provides the CRC32-Castagnoli checksums used by segment
// file footers.
//
//	checksum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(chunk)
//	checksum := h.Sum32()
package hash
