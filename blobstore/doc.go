// Package blobstore provides storage abstraction for raw media bytes.
//
// BlobStore is the interface for reading and writing media blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with atomic publish via rename
//   - MemoryStore: In-memory store for tests
//   - CachingStore: Whole-blob LRU wrapper for read-heavy serving
//   - minio.Store: MinIO and S3-compatible object storage
//   - s3.Store: Amazon S3 with multipart uploads
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Put(ctx, name, data) error
//	    Get(ctx, name) ([]byte, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
