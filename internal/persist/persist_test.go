package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/resource"
)

type memStore struct {
	mu    sync.Mutex
	blobs map[resource.Key]Blob
	now   time.Time
	fail  error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[resource.Key]Blob), now: time.Unix(1700000000, 0)}
}

func (s *memStore) put(key resource.Key, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Second)
	s.blobs[key] = Blob{Data: []byte(data), UpdatedAt: s.now}
}

func (s *memStore) Get(_ context.Context, key resource.Key) (Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return Blob{}, fmt.Errorf("blob %s: %w", key, resource.ErrNotFound)
	}
	return b, nil
}

func (s *memStore) UpdatedAt(_ context.Context, key resource.Key) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return time.Time{}, s.fail
	}
	b, ok := s.blobs[key]
	if !ok {
		return time.Time{}, fmt.Errorf("blob %s: %w", key, resource.ErrNotFound)
	}
	return b.UpdatedAt, nil
}

type doc struct {
	resource.ResourceBase
	body string
}

func (d *doc) UpdateContent(r io.Reader) resource.LoadDesc {
	b, _ := io.ReadAll(r)
	d.body = string(b)
	return resource.LoadDesc{State: resource.StateLoaded}
}

func (d *doc) UnloadData(resource.UnloadMode) resource.LoadDesc {
	d.body = ""
	return resource.LoadDesc{State: resource.StateUnloaded}
}

func (d *doc) UpdateMemoryUsage(u *resource.MemoryUsage) { u.CPU = uint64(len(d.body)) }

func TestBlobLoaderThroughManager(t *testing.T) {
	store := newMemStore()
	key := resource.Key{Type: "Doc", ID: "motd"}
	store.put(key, "hello")

	rm := resource.NewManager(config.ResourceConfig{}, zaptest.NewLogger(t))
	defer rm.Shutdown()
	loader := NewBlobLoader(store, zaptest.NewLogger(t))
	require.NoError(t, resource.RegisterType(rm, resource.TypeDesc[*doc]{
		Name:   "Doc",
		New:    func() *doc { return &doc{} },
		Loader: loader,
	}))

	h, err := resource.LoadResource[*doc](rm, "motd")
	require.NoError(t, err)
	defer h.Release()
	read := func() string {
		l, err := resource.Acquire(context.Background(), h, resource.AcquireBlockTillLoaded)
		require.NoError(t, err)
		defer l.Release()
		require.Equal(t, resource.AcquireFinal, l.Result())
		return l.Get().body
	}
	require.Equal(t, "hello", read())

	require.False(t, rm.ReloadResource(h, false))
	store.put(key, "bye")
	require.True(t, rm.ReloadResource(h, false))
	require.Equal(t, "bye", read())

	store.fail = errors.New("connection reset")
	store.put(key, "again")
	require.False(t, rm.ReloadResource(h, false))
}

func TestBlobLoaderMissingRow(t *testing.T) {
	store := newMemStore()
	rm := resource.NewManager(config.ResourceConfig{}, zaptest.NewLogger(t))
	defer rm.Shutdown()
	loader := NewBlobLoader(store, nil)
	require.NoError(t, resource.RegisterType(rm, resource.TypeDesc[*doc]{
		Name:   "Doc",
		New:    func() *doc { return &doc{} },
		Loader: loader,
	}))

	h, err := resource.LoadResource[*doc](rm, "ghost")
	require.NoError(t, err)
	defer h.Release()
	l, err := resource.Acquire(context.Background(), h, resource.AcquireBlockTillLoaded)
	require.NoError(t, err)
	require.Equal(t, resource.AcquireNone, l.Result())
	l.Release()
	require.Equal(t, resource.StateLoadedResourceMissing, h.State())

	// never streamed and still absent: nothing to reload
	th := h.Typeless()
	defer th.Release()
	require.False(t, loader.IsResourceOutdated(th.Resource()))
}

func TestEmbeddedMigrations(t *testing.T) {
	v, err := MigrationVersion()
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}
