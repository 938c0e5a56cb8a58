// Package objectstore abstracts the backing object storage an upload lands
// in: S3-compatible, a local filesystem path, or an NFS mount treated as a
// local path.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Object describes a stored object's location and basic metadata.
type Object struct {
	Key         string
	Bucket      string
	URL         string
	ContentType string
	Size        int64
}

// Store is the full storage adapter contract every backend implements.
type Store interface {
	// Upload stores body under key, returning the resulting Object.
	Upload(ctx context.Context, key, contentType string, body []byte) (Object, error)

	// UploadStream stores a reader of known size under key, avoiding
	// buffering the whole body in memory for large uploads.
	UploadStream(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error)

	// Download retrieves the full object body.
	Download(ctx context.Context, key string) ([]byte, error)

	// DownloadStream returns a reader over the object body; the caller must
	// close it.
	DownloadStream(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Copy duplicates the object at srcKey to dstKey.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// PresignPut returns a URL an external client may PUT to directly,
	// valid for expiry. The Local and NFS backends return a local
	// pseudo-presigned URL carrying the encoded key and expiry as query
	// parameters.
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// PresignGet returns a URL an external client may GET directly, valid
	// for expiry.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
