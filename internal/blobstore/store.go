// Package blobstore abstracts the blob container holding task inputs and
// outputs.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a blob or container does not exist.
var ErrNotFound = errors.New("blob not found")

// Store abstracts one content store container.
type Store interface {
	// EnsureContainer creates the container unless it already exists.
	EnsureContainer(ctx context.Context) error
	Upload(ctx context.Context, name string, body io.Reader, size int64) error
	// Delete removes a blob. A missing blob yields an error wrapping ErrNotFound.
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]ObjectInfo, error)
	Download(ctx context.Context, name string, w io.Writer) (int64, error)
	// ReadURL returns a URL that grants read access to one blob until ttl elapses.
	ReadURL(ctx context.Context, name string, ttl time.Duration) (string, error)
	// ContainerURL returns a URL that grants read, write, delete and list
	// access to the whole container until ttl elapses.
	ContainerURL(ctx context.Context, ttl time.Duration) (string, error)
	DeleteContainer(ctx context.Context) error
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Name string
	Size int64
}
