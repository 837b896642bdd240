package persist

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/resource"
)

// BlobLoader streams resource content out of a BlobStore. A resource is
// outdated once its row's updated_at moved past the version last streamed.
type BlobLoader struct {
	store   BlobStore
	timeout time.Duration // per outdated check
	log     *zap.Logger

	mu       sync.Mutex
	streamed map[resource.Key]time.Time
}

func NewBlobLoader(store BlobStore, log *zap.Logger) *BlobLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &BlobLoader{
		store:    store,
		timeout:  2 * time.Second,
		log:      log,
		streamed: make(map[resource.Key]time.Time),
	}
}

func (l *BlobLoader) OpenDataStream(ctx context.Context, r resource.Resource) (resource.LoaderData, error) {
	key := r.Base().Key()
	b, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			l.mu.Lock()
			delete(l.streamed, key)
			l.mu.Unlock()
		}
		return resource.LoaderData{}, err
	}
	l.mu.Lock()
	l.streamed[key] = b.UpdatedAt
	l.mu.Unlock()
	return resource.LoaderData{
		Reader:      bytes.NewReader(b.Data),
		Size:        int64(len(b.Data)),
		ModTime:     b.UpdatedAt,
		Fingerprint: xxhash.Sum64(b.Data),
	}, nil
}

func (l *BlobLoader) CloseDataStream(resource.Resource, resource.LoaderData) {}

// IsResourceOutdated asks the store for the row's write time. Lookup errors
// other than a missing row keep the current content.
func (l *BlobLoader) IsResourceOutdated(r resource.Resource) bool {
	key := r.Base().Key()
	l.mu.Lock()
	seen, ok := l.streamed[key]
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	t, err := l.store.UpdatedAt(ctx, key)
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return ok
	case err != nil:
		l.log.Warn("blob outdated check failed", zap.Stringer("key", key), zap.Error(err))
		return false
	case !ok:
		return true
	}
	return t.After(seen)
}
