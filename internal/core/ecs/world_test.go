package ecs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/resource"
)

var hookLog []string

type foo struct {
	ComponentBase
	updates int
	started int
}

func (f *foo) Initialize()          { hookLog = append(hookLog, "init") }
func (f *foo) Deinitialize()        { hookLog = append(hookLog, "deinit") }
func (f *foo) OnActivated()         { hookLog = append(hookLog, "activate") }
func (f *foo) OnDeactivated()       { hookLog = append(hookLog, "deactivate") }
func (f *foo) OnSimulationStarted() { f.started++ }

type bar struct {
	ComponentBase
	n int
}

func newTestWorld(t *testing.T, desc WorldDesc) *World {
	t.Helper()
	hookLog = nil
	w := NewWorld(desc, zaptest.NewLogger(t))
	t.Cleanup(w.Close)
	return w
}

func mustWrite(t *testing.T, w *World, fn func() error) {
	t.Helper()
	require.NoError(t, w.Write(fn))
}

func createObject(t *testing.T, w *World, desc GameObjectDesc) GameObjectHandle {
	t.Helper()
	var h GameObjectHandle
	mustWrite(t, w, func() error {
		var err error
		h, _, err = w.CreateObject(desc)
		return err
	})
	return h
}

func TestEndToEndUpdateAndDelayedDelete(t *testing.T) {
	w := newTestWorld(t, WorldDesc{Name: "e2e"})
	fm := RegisterComponentType[foo](w, "foo")
	calls := 0
	fm.RegisterUpdateFunction(UpdateFunctionDesc{
		Name:        "foo.tick",
		Granularity: 16,
		Func: func(ctx UpdateContext) {
			for f := range fm.Components(ctx) {
				f.updates++
				calls++
			}
		},
	})

	var oh GameObjectHandle
	var ch ComponentHandle
	mustWrite(t, w, func() error {
		var err error
		if oh, _, err = w.CreateObject(GameObjectDesc{Name: "o"}); err != nil {
			return err
		}
		ch, _, err = fm.CreateComponent(oh)
		return err
	})

	for range 3 {
		require.NoError(t, w.Update())
	}
	require.Equal(t, 3, calls)
	f, ok := fm.TryGetComponent(ch)
	require.True(t, ok)
	require.Equal(t, 3, f.updates)
	require.EqualValues(t, 3, w.Frame())

	w.DeleteObjectDelayed(oh)
	w.DeleteObjectDelayed(oh)
	require.NoError(t, w.Update())

	_, ok = fm.TryGetComponent(ch)
	require.False(t, ok)
	_, ok = w.TryGetObject(oh)
	require.False(t, ok)
	require.Zero(t, fm.Len())
	require.Equal(t, 3, calls)
}

func TestStructuralChangesNeedWriteMarker(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "")
	require.Equal(t, "foo", fm.Name())

	_, _, err := w.CreateObject(GameObjectDesc{})
	require.ErrorIs(t, err, ErrNotLocked)

	oh := createObject(t, w, GameObjectDesc{})
	_, _, err = fm.CreateComponent(oh)
	require.ErrorIs(t, err, ErrNotLocked)
	require.ErrorIs(t, w.DeleteObjectNow(oh, true), ErrNotLocked)
	require.False(t, w.WriteMarker().Held())
}

func TestComponentLifecycle(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "foo")
	oh := createObject(t, w, GameObjectDesc{})

	var ch ComponentHandle
	mustWrite(t, w, func() error {
		var err error
		var f *foo
		ch, f, err = fm.CreateComponent(oh)
		require.Equal(t, StateActivated, f.State())
		require.Equal(t, oh, f.Owner())
		return err
	})
	require.Equal(t, []string{"init", "activate"}, hookLog)

	mustWrite(t, w, func() error { return w.SetObjectActive(oh, false) })
	f, _ := fm.TryGetComponent(ch)
	require.Equal(t, StateDeactivated, f.State())

	mustWrite(t, w, func() error { return fm.SetActive(ch, false) })
	mustWrite(t, w, func() error { return w.SetObjectActive(oh, true) })
	require.Equal(t, StateDeactivated, f.State())
	mustWrite(t, w, func() error { return fm.SetActive(ch, true) })
	require.Equal(t, StateActivated, f.State())

	mustWrite(t, w, func() error { return fm.DeleteComponent(ch) })
	require.Equal(t, []string{"init", "activate", "deactivate", "activate", "deactivate", "deinit"}, hookLog)
	_, ok := fm.TryGetComponent(ch)
	require.False(t, ok)

	obj, _ := w.TryGetObject(oh)
	require.Empty(t, obj.Components())
}

func TestComponentOnInactiveObject(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "foo")
	oh := createObject(t, w, GameObjectDesc{Inactive: true})
	mustWrite(t, w, func() error {
		_, f, err := fm.CreateComponent(oh)
		require.Equal(t, StateInitialized, f.State())
		return err
	})
	require.Equal(t, []string{"init"}, hookLog)
}

func TestComponentHandleValidation(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := NewWorld(WorldDesc{}, zap.New(core))
	defer w.Close()
	other := newTestWorld(t, WorldDesc{})

	fm := RegisterComponentType[foo](w, "foo")
	bm := RegisterComponentType[bar](w, "bar")
	ofm := RegisterComponentType[foo](other, "foo")

	var fh, ofh ComponentHandle
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		var err error
		fh, _, err = fm.CreateComponent(oh)
		return err
	})
	mustWrite(t, other, func() error {
		oh, _, _ := other.CreateObject(GameObjectDesc{})
		var err error
		ofh, _, err = ofm.CreateComponent(oh)
		return err
	})

	_, err := bm.Lookup(fh)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = fm.Lookup(ofh)
	require.ErrorIs(t, err, ErrWorldMismatch)
	_, err = fm.Lookup(ComponentHandle{})
	require.ErrorIs(t, err, ErrStaleHandle)

	_, ok := bm.TryGetComponent(fh)
	require.False(t, ok)
	require.Equal(t, 1, logs.FilterMessage("invalid component handle").Len())

	c, ok := w.TryGetComponent(fh)
	require.True(t, ok)
	require.IsType(t, &foo{}, c)
	_, ok = w.TryGetComponent(ofh)
	require.False(t, ok)

	same, ok := ComponentManagerOf[foo](w)
	require.True(t, ok)
	require.Same(t, fm, same)
	require.Same(t, fm, RegisterComponentType[foo](w, "again"))
}

func TestSwapRemovalKeepsHandlesValid(t *testing.T) {
	w := newTestWorld(t, WorldDesc{BlockCapacity: 4})
	bm := RegisterComponentType[bar](w, "bar")
	handles := make([]ComponentHandle, 10)
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		for i := range handles {
			h, b, err := bm.CreateComponent(oh)
			if err != nil {
				return err
			}
			b.n = i
			handles[i] = h
		}
		return nil
	})
	mustWrite(t, w, func() error { return bm.DeleteComponent(handles[2]) })
	mustWrite(t, w, func() error { return bm.DeleteComponent(handles[0]) })

	for i, h := range handles {
		b, ok := bm.TryGetComponent(h)
		if i == 0 || i == 2 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.Equal(t, i, b.n)
		require.Equal(t, h, b.Handle())
	}
}

func TestHierarchyAndActivation(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "foo")

	root := createObject(t, w, GameObjectDesc{Name: "root", Position: mgl32.Vec3{1, 0, 0}})
	child := createObject(t, w, GameObjectDesc{Name: "child", Parent: root, Position: mgl32.Vec3{0, 2, 0}})
	grandchild := createObject(t, w, GameObjectDesc{Name: "grandchild", Parent: child, Tags: []string{"leaf"}})

	var ch ComponentHandle
	mustWrite(t, w, func() error {
		var err error
		ch, _, err = fm.CreateComponent(grandchild)
		return err
	})

	m, ok := w.GlobalTransform(grandchild)
	require.True(t, ok)
	require.InDelta(t, 1, m.Col(3)[0], 1e-6)
	require.InDelta(t, 2, m.Col(3)[1], 1e-6)

	mustWrite(t, w, func() error { return w.SetObjectActive(root, false) })
	require.False(t, w.IsObjectActive(grandchild))
	f, _ := fm.TryGetComponent(ch)
	require.False(t, f.IsActive())

	mustWrite(t, w, func() error { return w.SetParent(grandchild, GameObjectHandle{}) })
	require.True(t, w.IsObjectActive(grandchild))
	require.True(t, f.IsActive())

	require.ErrorIs(t, w.Write(func() error { return w.SetParent(root, child) }), ErrParentCycle)
	require.Equal(t, []GameObjectHandle{grandchild}, w.FindObjectsWithTag("leaf"))

	// deleting child without its children re-parents them to root
	mustWrite(t, w, func() error { return w.SetParent(grandchild, child) })
	mustWrite(t, w, func() error { return w.DeleteObjectNow(child, false) })
	gc, ok := w.TryGetObject(grandchild)
	require.True(t, ok)
	require.Equal(t, root, gc.Parent())
	require.Equal(t, 2, w.ObjectCount())

	mustWrite(t, w, func() error { return w.DeleteObjectNow(root, true) })
	require.Zero(t, w.ObjectCount())
	_, ok = fm.TryGetComponent(ch)
	require.False(t, ok)
}

func TestSimulationStarted(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "foo")
	var ch ComponentHandle
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		var err error
		ch, _, err = fm.CreateComponent(oh)
		return err
	})
	f, _ := fm.TryGetComponent(ch)
	require.Zero(t, f.started)

	w.SetSimulation(true)
	w.SetSimulation(true)
	w.SetSimulation(false)
	w.SetSimulation(true)
	require.Equal(t, 1, f.started)
	require.True(t, w.IsSimulating())
}

func TestOnlyWhenSimulating(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	bm := RegisterComponentType[bar](w, "bar")
	calls := 0
	bm.RegisterUpdateFunction(UpdateFunctionDesc{
		OnlyWhenSimulating: true,
		Func:               func(UpdateContext) { calls++ },
	})
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		_, _, err := bm.CreateComponent(oh)
		return err
	})
	require.NoError(t, w.Update())
	require.Zero(t, calls)
	w.SetSimulation(true)
	require.NoError(t, w.Update())
	require.Equal(t, 1, calls)
}

func TestDeleteComponentDuringUpdate(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	bm := RegisterComponentType[bar](w, "bar")
	var victim ComponentHandle
	deleted := false
	bm.RegisterUpdateFunction(UpdateFunctionDesc{
		Phase: PhasePostAsync,
		Func: func(ctx UpdateContext) {
			if deleted {
				return
			}
			deleted = true
			require.NoError(t, bm.DeleteComponent(victim))
			_, ok := bm.TryGetComponent(victim)
			require.False(t, ok)
			require.Equal(t, 2, bm.Len())
		},
	})
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		victim, _, _ = bm.CreateComponent(oh)
		_, _, err := bm.CreateComponent(oh)
		return err
	})
	require.NoError(t, w.Update())
	require.Equal(t, 1, bm.Len())
}

func TestAsyncPhaseRejectsStructuralChanges(t *testing.T) {
	w := newTestWorld(t, WorldDesc{Workers: 4})
	bm := RegisterComponentType[bar](w, "bar")
	var rejected atomic.Int32
	bm.RegisterUpdateFunction(UpdateFunctionDesc{
		Phase: PhaseAsync,
		Func: func(UpdateContext) {
			if _, _, err := w.CreateObject(GameObjectDesc{}); errors.Is(err, ErrAsyncPhase) {
				rejected.Add(1)
			}
		},
	})
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		_, _, err := bm.CreateComponent(oh)
		return err
	})
	require.NoError(t, w.Update())
	require.EqualValues(t, 1, rejected.Load())
	require.Equal(t, 1, w.ObjectCount())
}

type blob struct {
	resource.ResourceBase
	data string
}

func (b *blob) UpdateContent(r io.Reader) resource.LoadDesc {
	d, _ := io.ReadAll(r)
	b.data = string(d)
	return resource.LoadDesc{State: resource.StateLoaded}
}

func (b *blob) UnloadData(resource.UnloadMode) resource.LoadDesc {
	b.data = ""
	return resource.LoadDesc{State: resource.StateUnloaded}
}

func (b *blob) UpdateMemoryUsage(u *resource.MemoryUsage) { u.CPU = uint64(len(b.data)) }

func TestResourceReloadCallbacks(t *testing.T) {
	rm := resource.NewManager(config.ResourceConfig{}, zaptest.NewLogger(t))
	defer rm.Shutdown()
	ml := resource.NewMemoryLoader()
	require.NoError(t, resource.RegisterType(rm, resource.TypeDesc[*blob]{
		Name:   "Blob",
		New:    func() *blob { return &blob{} },
		Loader: ml,
	}))
	ml.Set("shader", []byte("v1"))
	h, err := resource.LoadResource[*blob](rm, "shader")
	require.NoError(t, err)
	defer h.Release()
	acquire := func() string {
		l, err := resource.Acquire(context.Background(), h, resource.AcquireBlockTillLoaded)
		require.NoError(t, err)
		defer l.Release()
		return l.Get().data
	}
	require.Equal(t, "v1", acquire())

	w := newTestWorld(t, WorldDesc{Resources: rm})
	bm := RegisterComponentType[bar](w, "bar")
	var keep, gone ComponentHandle
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		keep, _, _ = bm.CreateComponent(oh)
		var err error
		gone, _, err = bm.CreateComponent(oh)
		return err
	})

	var mu sync.Mutex
	var reloaded []ComponentHandle
	fn := func(_ *World, c ComponentHandle) {
		mu.Lock()
		reloaded = append(reloaded, c)
		mu.Unlock()
	}
	w.AddResourceReloadFunction(h.Key(), keep, fn)
	w.AddResourceReloadFunction(h.Key(), gone, fn)
	mustWrite(t, w, func() error { return bm.DeleteComponent(gone) })

	ml.Set("shader", []byte("v2"))
	require.True(t, rm.ReloadResource(h, false))
	require.Equal(t, "v2", acquire())

	require.NoError(t, w.Update())
	require.Equal(t, []ComponentHandle{keep}, reloaded)

	require.NoError(t, w.Update())
	require.Len(t, reloaded, 1)

	w.RemoveResourceReloadFunction(h.Key(), keep)
	require.True(t, rm.ReloadResource(h, true))
	acquire()
	require.NoError(t, w.Update())
	require.Len(t, reloaded, 1)
}

// claimant deletes claimVictim, or itself when claimSelf is set, from
// Initialize.
type claimant struct {
	ComponentBase
}

var (
	claimants   *ComponentManager[claimant, *claimant]
	claimVictim ComponentHandle
	claimSelf   bool
)

func (c *claimant) Initialize() {
	if claimSelf {
		_ = claimants.DeleteComponent(c.Handle())
		return
	}
	if !claimVictim.IsZero() {
		_ = claimants.DeleteComponent(claimVictim)
	}
}

func TestInitializeDeletingSiblingKeepsNewComponent(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	claimants = RegisterComponentType[claimant](w, "claimant")
	claimVictim = ComponentHandle{}
	t.Cleanup(func() { claimants, claimVictim = nil, ComponentHandle{} })
	oh := createObject(t, w, GameObjectDesc{})

	var victim, kept ComponentHandle
	var c *claimant
	mustWrite(t, w, func() error {
		var err error
		if victim, _, err = claimants.CreateComponent(oh); err != nil {
			return err
		}
		claimVictim = victim
		// slot 1 is swapped into slot 0 while Initialize runs
		kept, c, err = claimants.CreateComponent(oh)
		return err
	})

	require.Equal(t, 1, claimants.Len())
	_, ok := claimants.TryGetComponent(victim)
	require.False(t, ok)
	got, ok := claimants.TryGetComponent(kept)
	require.True(t, ok)
	require.Same(t, got, c)
	require.Equal(t, kept, got.Handle())
	require.Equal(t, StateActivated, got.State())
}

func TestInitializeDeletingItselfReportsStale(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	claimants = RegisterComponentType[claimant](w, "claimant")
	t.Cleanup(func() { claimants, claimVictim, claimSelf = nil, ComponentHandle{}, false })
	oh := createObject(t, w, GameObjectDesc{})

	claimSelf = true
	mustWrite(t, w, func() error {
		h, c, err := claimants.CreateComponent(oh)
		require.ErrorIs(t, err, ErrStaleHandle)
		require.Nil(t, c)
		_, ok := claimants.TryGetComponent(h)
		require.False(t, ok)
		return nil
	})
	require.Zero(t, claimants.Len())
}
