// Package hnswvec stores one HNSW graph per vector field next to the vectors
// of a flat format.
//
// A segment written by this format consists of the flat format's files and
// two graph files:
//
//	<segment>.vex  graph index: one WriteGraph stream per field
//	<segment>.vem  graph meta: per field number, name, compression, node
//	               count and the stream's offset and length, terminated by -1
//
// Graphs are built when a segment is flushed and rebuilt when segments are
// merged. A merge reuses the largest input graph that lost no documents.
//
// The flat format decides how vectors are stored and scored. With
// codec/sq graphs are built and searched over quantized codes.
package hnswvec
