package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CommitPrefix names commit point blobs: segments_1, segments_2, ...
const CommitPrefix = "segments_"

// ErrConcurrentModification is returned when another writer committed the
// same generation first.
var ErrConcurrentModification = errors.New("blobstore: concurrent modification detected")

// Committer publishes commit points. A commit point is an opaque manifest
// tagged with a strictly increasing generation.
type Committer interface {
	// Commit publishes manifest as generation gen. It fails with
	// ErrConcurrentModification when gen already exists.
	Commit(ctx context.Context, gen uint64, manifest []byte) error
	// Latest returns the newest generation and its manifest, or 0 and nil
	// when nothing was committed yet.
	Latest(ctx context.Context) (uint64, []byte, error)
}

// CommitName returns the blob name of generation gen.
func CommitName(gen uint64) string {
	return CommitPrefix + strconv.FormatUint(gen, 10)
}

// ParseCommitName returns the generation encoded in name.
func ParseCommitName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, CommitPrefix) {
		return 0, false
	}
	gen, err := strconv.ParseUint(name[len(CommitPrefix):], 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

// StoreCommitter commits by writing segments_N blobs into a Store. It
// relies on a single writer per store.
type StoreCommitter struct {
	store Store
}

var _ Committer = (*StoreCommitter)(nil)

// NewStoreCommitter creates a committer over store.
func NewStoreCommitter(store Store) *StoreCommitter {
	return &StoreCommitter{store: store}
}

func (c *StoreCommitter) Commit(ctx context.Context, gen uint64, manifest []byte) error {
	latest, err := c.latestGen(ctx)
	if err != nil {
		return err
	}
	if gen <= latest {
		return fmt.Errorf("%w: generation %d, latest %d", ErrConcurrentModification, gen, latest)
	}
	return c.store.Put(ctx, CommitName(gen), manifest)
}

func (c *StoreCommitter) Latest(ctx context.Context) (uint64, []byte, error) {
	gen, err := c.latestGen(ctx)
	if err != nil || gen == 0 {
		return 0, nil, err
	}
	b, err := c.store.Open(ctx, CommitName(gen))
	if err != nil {
		return 0, nil, err
	}
	defer b.Close()

	data, err := ReadFull(ctx, b, 0, b.Size())
	if err != nil {
		return 0, nil, err
	}
	// detach from the mapping before Close
	return gen, append([]byte(nil), data...), nil
}

func (c *StoreCommitter) latestGen(ctx context.Context) (uint64, error) {
	names, err := c.store.List(ctx, CommitPrefix)
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, name := range names {
		if gen, ok := ParseCommitName(name); ok && gen > latest {
			latest = gen
		}
	}
	return latest, nil
}

// ReadAll reads a whole blob through ReadRange.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
