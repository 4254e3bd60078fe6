// Package compress frames data into independently compressed blocks.
//
// Each block is written as [uncompressed:uint32][compressed:uint32][payload],
// little-endian. A compressed size of 0 marks a block stored raw, which
// happens whenever compression saves less than 10%.
package compress
