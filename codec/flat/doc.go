// Package flat implements the flat vector format: vectors stored
// contiguously per field, without any index structure.
//
// A segment written by this format consists of two files:
//
//	<segment>.vec   vector data, one 64 byte aligned section per field
//	<segment>.vemf  field metadata: encoding, similarity, dimension, the
//	                section of .vec holding the vectors and the documents
//	                that have a vector
//
// Both files carry the codec header and a CRC32C footer. Readers map the
// data file when the store supports it and read vectors without copying;
// otherwise every accessor decodes into its own scratch buffer.
package flat
