package domain

import (
	"context"
	"io"
	"time"
)

// StoredObject is one entry of an object-store listing.
type StoredObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores arbitrage archives.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// BlobReader serves archives back. Get returns ErrNotFound for a missing key.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]StoredObject, error)
}
