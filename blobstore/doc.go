// Package blobstore provides the storage abstraction for segment files.
//
// A Store holds immutable, named blobs. Writers stream into a WritableBlob
// which becomes visible only on Close; Abort discards it. Commit points
// are published through a Committer.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, temp file + rename, mmap reads
//   - MemoryStore: in-memory, for tests
//   - CachingStore: block cache in front of any Store
//   - minio.Store: MinIO and S3-compatible object storage
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - s3.DDBCommitter: DynamoDB conditional writes for commit points
package blobstore
