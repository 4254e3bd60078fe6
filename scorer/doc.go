// Package scorer binds a query to a field's vectors and scores ordinals.
//
// A RandomVectorScorer is a pure function from vector ordinal to similarity
// against one bound query. Scorers and the accessors behind them are not
// safe for concurrent use: a RandomVectorScorerSupplier hands out owned
// scorer instances, one per goroutine, via Scorer and Copy.
//
// FlatVectorsScorer is the factory used by the flat formats. Default scores
// raw float and byte vectors. ScalarQuantized scores quantized codes with
// their correction constants and falls back to its delegate whenever the
// values it is given are not quantized.
package scorer
