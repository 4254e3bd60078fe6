package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/veccodec/blobstore"
)

// AdviceStore wraps a Store and records the access hints given to the
// blobs it opens.
type AdviceStore struct {
	blobstore.Store

	mu     sync.Mutex
	err    error
	advice map[string][]string
}

// NewAdviceStore wraps s.
func NewAdviceStore(s blobstore.Store) *AdviceStore {
	return &AdviceStore{Store: s, advice: make(map[string][]string)}
}

// FailAdvice makes every later hint return err.
func (s *AdviceStore) FailAdvice(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Advice returns the hints given to blob name, oldest first.
func (s *AdviceStore) Advice(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.advice[name])
}

func (s *AdviceStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	b, err := s.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &adviceBlob{Blob: b, store: s, name: name}, nil
}

func (s *AdviceStore) record(name, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advice[name] = append(s.advice[name], pattern)
	return s.err
}

type adviceBlob struct {
	blobstore.Blob
	store *AdviceStore
	name  string
}

func (b *adviceBlob) AdviseSequential() error { return b.store.record(b.name, "sequential") }
func (b *adviceBlob) AdviseRandom() error     { return b.store.record(b.name, "random") }
