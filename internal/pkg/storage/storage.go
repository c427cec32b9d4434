package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the object store statements are written to.
type Storage interface {
	// Put stores an object under key, replacing any existing one.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Delete removes an object. Returns nil if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// DownloadURL returns a time-limited URL for a private object.
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
