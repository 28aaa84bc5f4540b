// Package photostore retains uploaded prescription images.
package photostore

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound   = errors.New("image not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// PhotoStore saves images under opaque storage keys. Get returns the stored
// MIME type alongside the content.
type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}
