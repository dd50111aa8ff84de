// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.NewFromDefaultConfig(ctx, "my-bucket", "media/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Features
//
//   - Multipart uploads for large media files
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
