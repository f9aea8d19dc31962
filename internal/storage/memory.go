package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/fzcomet206/musicshare/internal/apperr"
)

// Memory is an in-process BlobStore used by tests in place of S3Store.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.S3DownloadError, "object "+key+" not found")
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return apperr.Wrap(apperr.S3DownloadError, err)
	}
	return nil
}

func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return apperr.Wrap(apperr.UploadFailed, err)
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}
