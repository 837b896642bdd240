package system

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/resource"
)

type text struct {
	resource.ResourceBase
	body string
}

func (r *text) UpdateContent(rd io.Reader) resource.LoadDesc {
	b, _ := io.ReadAll(rd)
	r.body = string(b)
	return resource.LoadDesc{State: resource.StateLoaded}
}

func (r *text) UnloadData(resource.UnloadMode) resource.LoadDesc {
	r.body = ""
	return resource.LoadDesc{State: resource.StateUnloaded}
}

func (r *text) UpdateMemoryUsage(u *resource.MemoryUsage) { u.CPU = uint64(len(r.body)) }

func newManager(t *testing.T) (*resource.Manager, *resource.MemoryLoader) {
	t.Helper()
	rm := resource.NewManager(config.ResourceConfig{}, zaptest.NewLogger(t))
	ml := resource.NewMemoryLoader()
	require.NoError(t, resource.RegisterType(rm, resource.TypeDesc[*text]{
		Name:   "Text",
		New:    func() *text { return &text{} },
		Loader: ml,
	}))
	require.NoError(t, resource.RegisterCollectionType(rm, ml))
	t.Cleanup(rm.Shutdown)
	return rm, ml
}

func TestCollectionPreloadSystem(t *testing.T) {
	rm, ml := newManager(t)
	desc := resource.CollectionDescriptor{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ml.Set(id, []byte(id))
		desc.Entries = append(desc.Entries, resource.CollectionEntry{AssetTypeName: "Text", ResourceID: id})
	}
	var buf bytes.Buffer
	require.NoError(t, desc.Save(&buf, resource.CollectionVersionCurrent))
	ml.Set("boot.col", buf.Bytes())

	col, err := resource.LoadResource[*resource.Collection](rm, "boot.col")
	require.NoError(t, err)
	sys := NewCollectionPreloadSystem(col, 2, zaptest.NewLogger(t))
	defer sys.Close()
	require.Equal(t, coresys.PhaseStream, sys.Phase())

	// the first tick only queues the collection itself
	sys.Update(0)
	require.False(t, sys.Done())
	require.Equal(t, resource.StateLoading, col.State())

	// no streaming workers run: load pending entries from the test goroutine
	drain := func() {
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			if h, ok := rm.Find(resource.Key{Type: "Text", ID: id}); ok {
				th, _ := resource.As[*text](h)
				l, err := resource.Acquire(context.Background(), th, resource.AcquireBlockTillLoaded)
				require.NoError(t, err)
				l.Release()
				th.Release()
				h.Release()
			}
		}
		l, err := resource.Acquire(context.Background(), col, resource.AcquireBlockTillLoaded)
		require.NoError(t, err)
		l.Release()
	}

	for i := 0; i < 10 && !sys.Done(); i++ {
		drain()
		sys.Update(0)
	}
	require.True(t, sys.Done())
	require.Equal(t, 1.0, sys.Progress())
	require.Equal(t, 6, rm.Stats().Total)
}

func TestCollectionPreloadSystemMissing(t *testing.T) {
	rm, _ := newManager(t)
	col, err := resource.LoadResource[*resource.Collection](rm, "nope.col")
	require.NoError(t, err)
	sys := NewCollectionPreloadSystem(col, 0, zaptest.NewLogger(t))
	defer sys.Close()

	sys.Update(0)
	l, err := resource.Acquire(context.Background(), col, resource.AcquireBlockTillLoaded)
	require.NoError(t, err)
	l.Release()
	sys.Update(0)
	require.True(t, sys.Done())
}

func TestResourceSweepSystem(t *testing.T) {
	rm, ml := newManager(t)
	ml.Set("x", []byte("x"))
	h, err := resource.LoadResource[*text](rm, "x")
	require.NoError(t, err)
	h.Release()

	sys := NewResourceSweepSystem(rm, 0, 3, zaptest.NewLogger(t))
	sys.Update(0)
	sys.Update(0)
	require.Equal(t, 1, rm.Stats().Total)
	sys.Update(0)
	require.Zero(t, rm.Stats().Total)
}

type ticker struct {
	ecs.ComponentBase
	n int
}

func TestRunnerDrivesWorld(t *testing.T) {
	rm, _ := newManager(t)
	w := ecs.NewWorld(ecs.WorldDesc{Resources: rm}, zaptest.NewLogger(t))
	defer w.Close()
	m := ecs.RegisterComponentType[ticker](w, "ticker")
	m.RegisterUpdateFunction(ecs.UpdateFunctionDesc{Func: func(ctx ecs.UpdateContext) {
		for c := range m.Components(ctx) {
			c.n++
		}
	}})
	var ch ecs.ComponentHandle
	require.NoError(t, w.Write(func() error {
		oh, _, err := w.CreateObject(ecs.GameObjectDesc{})
		if err != nil {
			return err
		}
		ch, _, err = m.CreateComponent(oh)
		return err
	}))

	r := coresys.NewRunner()
	r.Register(NewResourceSweepSystem(rm, time.Minute, 1, zaptest.NewLogger(t)))
	r.Register(NewWorldSystem(w, zaptest.NewLogger(t)))
	for range 4 {
		r.Tick(50 * time.Millisecond)
	}
	c, ok := m.TryGetComponent(ch)
	require.True(t, ok)
	require.Equal(t, 4, c.n)
	require.EqualValues(t, 4, w.Frame())
}
