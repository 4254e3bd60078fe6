// Package veccodec stores vector fields in immutable segments and answers
// approximate nearest neighbor queries over them.
//
// Every segment holds the flat vectors of each field (raw or scalar
// quantized) and an HNSW graph built over them. Segments live in a
// blobstore.Store (local disk, memory, MinIO or S3) and become visible
// through numbered commit points.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, err := veccodec.Open(ctx, blobstore.NewLocalStore("./data"),
//	    veccodec.WithFields(codec.FieldInfo{
//	        Name:       "embedding",
//	        Dimension:  128,
//	        Encoding:   distance.Float32,
//	        Similarity: distance.Euclidean,
//	    }))
//	if err != nil {
//	    panic(err)
//	}
//	defer idx.Close()
//
// Write a segment:
//
//	docs := []veccodec.Document{
//	    {Floats: map[string][]float32{"embedding": vec0}},
//	    {Floats: map[string][]float32{"embedding": vec1}},
//	}
//	info, err := idx.AddSegment(ctx, docs)
//
// Search returns the best hits of each segment separately:
//
//	results, err := idx.Search(ctx, "embedding", query, 10)
//	for _, r := range results {
//	    for _, hit := range r.Hits {
//	        fmt.Println(r.Segment, hit.Doc, hit.Score)
//	    }
//	}
//
// # Segments and Merges
//
// AddSegment and Merge publish a new commit point. Merge rewrites all
// segments into one, drops deleted documents and reuses the largest graph
// of a segment without deletions as the starting point of the merged
// graph. Scores are similarities: higher is better for every metric.
//
// # Configuration
//
// Options can be given directly or loaded from VECCODEC_* environment
// variables with LoadConfig.
package veccodec
