// Package storage abstracts the S3-compatible object store the image
// pipeline uploads into. The engine treats the store as append-only.
package storage

import (
	"context"
	"io"
)

// ObjectStore uploads image bytes and resolves their public URLs.
type ObjectStore interface {
	// Put uploads an object under the given filename and returns its
	// public URL. Re-uploading the same filename overwrites in place.
	Put(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error)

	// PublicURL returns the public read URL for a stored filename.
	PublicURL(filename string) string

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
