// Package s3 provides Amazon S3 implementations of blobstore.Store and
// blobstore.Committer.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "vectors/")
//
// Commit points can be published with S3 conditional writes
// (NewConditionalCommitter) or through a DynamoDB commit log
// (NewDDBCommitter) when the bucket does not support If-None-Match.
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads with CRC32C checksums for large segments
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
