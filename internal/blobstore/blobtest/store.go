// Package blobtest provides an in-memory blobstore.Store for tests.
package blobtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
)

// Store keeps blobs in memory and counts calls.
type Store struct {
	mu sync.Mutex

	Container string
	Blobs     map[string][]byte
	Exists    bool

	DeleteContainerErr error

	EnsureCalls          int
	UploadCalls          int
	DeleteCalls          int
	DownloadCalls        int
	DeleteContainerCalls int
}

// New returns an empty store for container.
func New(container string) *Store {
	return &Store{Container: container, Blobs: map[string][]byte{}}
}

// Put seeds a blob without counting an upload.
func (s *Store) Put(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Blobs[name] = append([]byte(nil), content...)
}

func (s *Store) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnsureCalls++
	s.Exists = true
	return nil
}

func (s *Store) Upload(ctx context.Context, name string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UploadCalls++
	if _, ok := s.Blobs[name]; ok {
		return fmt.Errorf("blob %s already exists", name)
	}
	s.Blobs[name] = data
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if _, ok := s.Blobs[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, blobstore.ErrNotFound)
	}
	delete(s.Blobs, name)
	return nil
}

func (s *Store) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]blobstore.ObjectInfo, 0, len(s.Blobs))
	for name, data := range s.Blobs {
		out = append(out, blobstore.ObjectInfo{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	s.mu.Lock()
	data, ok := s.Blobs[name]
	s.DownloadCalls++
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("download %s: %w", name, blobstore.ErrNotFound)
	}
	return io.Copy(w, bytes.NewReader(data))
}

func (s *Store) ReadURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blob.test/%s/%s?sp=r&ttl=%s", s.Container, name, ttl), nil
}

func (s *Store) ContainerURL(ctx context.Context, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blob.test/%s?sp=rwdl&ttl=%s", s.Container, ttl), nil
}

func (s *Store) DeleteContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteContainerCalls++
	if s.DeleteContainerErr != nil {
		return s.DeleteContainerErr
	}
	s.Exists = false
	s.Blobs = map[string][]byte{}
	return nil
}
