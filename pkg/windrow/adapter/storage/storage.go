// Package storage defines the object-store contract used for exported
// artifacts such as skip-record archives.
package storage

import (
	"context"
	"io"
)

// Store abstracts generic object storage operations. Implementations
// must be safe for concurrent use.
type Store interface {
	// Upload writes the data stream to the named object, overwriting any
	// existing object.
	Upload(ctx context.Context, objectName string, data io.Reader) error

	// Download opens the named object for reading. The caller closes the
	// returned reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)

	// List calls fn for every object name under the prefix.
	List(ctx context.Context, prefix string, fn func(objectName string) error) error

	// Delete removes the named object.
	Delete(ctx context.Context, objectName string) error
}
