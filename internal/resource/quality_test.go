package resource

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/worldcore/internal/config"
)

const tierCount = 3

// passGate pauses quality passes: each one announces itself on entered and
// waits for release.
type passGate struct {
	entered chan struct{}
	release chan struct{}
}

// tieredResource adds one quality level per content pass.
type tieredResource struct {
	ResourceBase

	gate    *passGate
	level   int
	updates atomic.Int32
}

func (r *tieredResource) UpdateContent(rd io.Reader) LoadDesc {
	_, _ = io.ReadAll(rd)
	if r.gate != nil && r.level >= 1 {
		r.gate.entered <- struct{}{}
		<-r.gate.release
	}
	r.level = min(r.level+1, tierCount)
	r.updates.Add(1)
	return r.desc()
}

func (r *tieredResource) UnloadData(mode UnloadMode) LoadDesc {
	if mode == UnloadOneQualityLevel && r.level > 1 {
		r.level--
		return r.desc()
	}
	r.level = 0
	return LoadDesc{State: StateUnloaded}
}

func (r *tieredResource) UpdateMemoryUsage(u *MemoryUsage) { u.CPU = uint64(r.level) << 10 }

func (r *tieredResource) desc() LoadDesc {
	return LoadDesc{
		State:                    StateLoaded,
		QualityLevelsDiscardable: r.level - 1,
		QualityLevelsLoadable:    tierCount - r.level,
	}
}

func newTieredManager(t *testing.T, stream bool, gate *passGate) (*Manager, Handle[*tieredResource]) {
	t.Helper()
	m := NewManager(config.ResourceConfig{Workers: 1}, zaptest.NewLogger(t))
	t.Cleanup(m.Shutdown)
	ml := NewMemoryLoader()
	ml.Set("terrain", []byte("heightmap"))
	require.NoError(t, RegisterType(m, TypeDesc[*tieredResource]{
		Name:                "Tiered",
		New:                 func() *tieredResource { return &tieredResource{gate: gate} },
		Loader:              ml,
		StreamQualityLevels: stream,
	}))
	h, err := LoadResource[*tieredResource](m, "terrain")
	require.NoError(t, err)
	return m, h
}

func requireLevels(t *testing.T, h Ref, discardable, loadable int) {
	t.Helper()
	d, l := h.entry().Base().QualityLevels()
	require.Equal(t, discardable, d, "discardable")
	require.Equal(t, loadable, l, "loadable")
}

func TestLoadAndDiscardQualityLevels(t *testing.T) {
	m, h := newTieredManager(t, false, nil)
	defer h.Release()

	l, err := Acquire(context.Background(), h, AcquireBlockTillLoaded)
	require.NoError(t, err)
	require.Equal(t, AcquireFinal, l.Result())
	r := l.Get()
	requireLevels(t, h, 0, 2)

	// no workers: the pass runs inline
	require.True(t, m.LoadQualityLevel(h))
	require.Equal(t, StateLoaded, h.State())
	requireLevels(t, h, 1, 1)
	require.True(t, m.LoadQualityLevel(h))
	requireLevels(t, h, 2, 0)
	require.False(t, m.LoadQualityLevel(h))
	require.Equal(t, tierCount, r.level)
	require.EqualValues(t, tierCount, r.updates.Load())
	require.EqualValues(t, tierCount<<10, h.entry().Base().MemoryUsage().CPU)

	require.False(t, m.DiscardQualityLevel(h), "locked")
	l.Release()

	require.True(t, m.DiscardQualityLevel(h))
	require.Equal(t, StateLoaded, h.State())
	requireLevels(t, h, 1, 1)
	require.Equal(t, 2, r.level)
	require.True(t, m.DiscardQualityLevel(h))
	require.False(t, m.DiscardQualityLevel(h))
	require.Equal(t, StateLoaded, h.State())
	require.Equal(t, 1, r.level)
}

func TestStreamQualityLevelsWithoutWorkers(t *testing.T) {
	m, h := newTieredManager(t, true, nil)

	l, err := Acquire(context.Background(), h, AcquireBlockTillLoaded)
	require.NoError(t, err)
	l.Release()

	// nothing claims queued passes without workers, so none is queued
	require.Equal(t, StateLoaded, h.State())
	require.Zero(t, m.Stats().Queued)
	require.False(t, h.entry().Base().isLoadingOrQueued())
	requireLevels(t, h, 0, 2)

	require.True(t, m.LoadQualityLevel(h))
	requireLevels(t, h, 1, 1)
	require.Zero(t, m.Stats().Queued)

	h.Release()
	require.Equal(t, 1, m.FreeAllUnusedResources())
	require.Zero(t, m.Stats().Total)
}

func TestStreamQualityLevelsWithWorkers(t *testing.T) {
	m, h := newTieredManager(t, true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.True(t, m.PreloadResource(h))
	require.Eventually(t, func() bool {
		d, l := h.entry().Base().QualityLevels()
		return h.State() == StateLoaded && d == 2 && l == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, tierCount, h.entry().(*tieredResource).updates.Load())
	require.False(t, m.LoadQualityLevel(h))

	h.Release()
	require.Eventually(t, func() bool { return m.FreeAllUnusedResources() == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestStreamQualityLevelsStopWhenUnreferenced(t *testing.T) {
	gate := &passGate{entered: make(chan struct{}), release: make(chan struct{})}
	m, h := newTieredManager(t, true, gate)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	l, err := Acquire(ctx, h, AcquireBlockTillLoaded)
	require.NoError(t, err)
	l.Release()

	// the second pass is running; drop the last reference before it ends
	<-gate.entered
	h.Release()
	gate.release <- struct{}{}

	require.Eventually(t, func() bool {
		d, l := h.entry().Base().QualityLevels()
		return d == 1 && l == 1 && !h.entry().Base().isLoadingOrQueued()
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, m.Stats().Queued)
	require.Equal(t, 1, m.FreeAllUnusedResources())
	require.EqualValues(t, 2, h.entry().(*tieredResource).updates.Load())
}

func TestQualityPassDoesNotOverrideReload(t *testing.T) {
	m, h := newTieredManager(t, false, nil)
	defer h.Release()
	var mu sync.Mutex
	var reloaded int
	sub := m.Events().Subscribe(func(ev Event) {
		if ev.Kind == EventContentUpdated && ev.Reloaded {
			mu.Lock()
			reloaded++
			mu.Unlock()
		}
	})
	defer sub.Unsubscribe()

	l, err := Acquire(context.Background(), h, AcquireBlockTillLoaded)
	require.NoError(t, err)
	l.Release()
	r := h.entry()
	b := r.Base()

	// a quality pass streams, then a reload lands before it finishes
	ld, epoch, err := m.stream(context.Background(), r, true)
	require.NoError(t, err)
	require.True(t, m.ReloadResource(h, true))
	require.Equal(t, StateLoading, b.State())

	m.finishLoad(r, ld, nil, true, epoch)
	require.Equal(t, StateLoading, b.State())
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	require.NotNil(t, done, "reload's wait channel must stay open")
	require.True(t, b.pending.Load())
	require.False(t, b.pendingQual.Load())

	// a quality pass claimed after the reload skips the content
	_, _, err = m.stream(context.Background(), r, true)
	require.ErrorIs(t, err, errStalePass)

	l, err = Acquire(context.Background(), h, AcquireBlockTillLoaded)
	require.NoError(t, err)
	require.Equal(t, AcquireFinal, l.Result())
	require.Equal(t, 1, l.Get().level)
	l.Release()
	requireLevels(t, h, 0, 2)

	// finishing the old pass after the reload completed changes nothing
	m.finishLoad(r, ld, nil, true, epoch)
	requireLevels(t, h, 0, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, reloaded)
}
