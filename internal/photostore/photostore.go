package photostore

import (
	"context"
	"io"
)

// PhotoStore holds the binary image assets that photo records point at. A
// missing key is reported as domain.ErrNotFound.
type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}
