package provider

import (
	"context"
	"io"
	"time"
)

// Document is one uploaded file. Open is called at most once per store
// attempt and the caller closes the reader.
type Document struct {
	Field       string
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// DocumentStore persists a validated bundle. Implementations store either
// every document or none of them.
type DocumentStore interface {
	StoreBundle(ctx context.Context, uploadID string, docs []Document) error
}

type SimulatedDocumentStore struct {
	Latency time.Duration
}

func (s SimulatedDocumentStore) StoreBundle(ctx context.Context, _ string, _ []Document) error {
	return Sleep(ctx, s.Latency)
}
