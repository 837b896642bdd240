package ecs

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/resource"
)

// WorldDesc configures a new World.
type WorldDesc struct {
	Name          string
	BlockCapacity int  // instances per storage block, rounded to a power of two
	Workers       int  // goroutines per async update function; 0 = GOMAXPROCS
	Simulate      bool // start with simulation enabled
	// Resources, when set, lets components register resource reload
	// callbacks that run during Update.
	Resources *resource.Manager
}

// WriteMarker is the world's exclusive lock for structural changes. Go has
// no goroutine identity, so Held only reports that somebody holds it.
type WriteMarker struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (m *WriteMarker) Lock() {
	m.mu.Lock()
	m.held.Store(true)
}

func (m *WriteMarker) Unlock() {
	m.held.Store(false)
	m.mu.Unlock()
}

func (m *WriteMarker) Held() bool { return m.held.Load() }

// ResourceReloadFunc runs during Update after a resource a component
// registered for has been reloaded.
type ResourceReloadFunc func(w *World, c ComponentHandle)

type reloadEntry struct {
	component ComponentHandle
	fn        ResourceReloadFunc
}

// World is the top-level container for one simulation: the game object
// table, one component manager per registered type and the update scheduler.
//
// Structural changes require the write marker, which Write and Update hold.
// The marker records that it is held, not by whom, so only the goroutine
// holding it may mutate the world; another goroutine passes the check while
// the marker is held and races with the holder.
type World struct {
	id       WorldID
	name     string
	log      *zap.Logger
	marker   WriteMarker
	blockCap int
	workers  int

	objects   *BlockStorage[GameObject]
	objectIDs *IDTable[int]

	managers       []componentManager
	managersByType map[reflect.Type]componentManager
	scheduler      scheduler

	delayedMu  sync.Mutex
	delayed    []GameObjectHandle
	delayedSet map[ID]struct{}

	updating   atomic.Bool
	asyncPhase atomic.Bool
	simulating atomic.Bool
	frame      uint64
	lastUpdate time.Time
	lastDelta  time.Duration

	resources   *resource.Manager
	reloadSub   *event.Subscription
	reloadQueue *event.Queue[resource.Key]
	reloadMu    sync.Mutex
	reloadFns   map[resource.Key][]reloadEntry
}

func NewWorld(desc WorldDesc, log *zap.Logger) *World {
	if log == nil {
		log = zap.NewNop()
	}
	if desc.BlockCapacity <= 0 {
		desc.BlockCapacity = DefaultBlockCapacity
	}
	if desc.Workers <= 0 {
		desc.Workers = runtime.GOMAXPROCS(0)
	}
	id := WorldID(nextWorldID.Add(1))
	if desc.Name == "" {
		desc.Name = fmt.Sprintf("world-%d", id)
	}
	blockCap := nextPow2(desc.BlockCapacity)
	w := &World{
		id:             id,
		name:           desc.Name,
		log:            log.With(zap.String("world", desc.Name)),
		blockCap:       blockCap,
		workers:        desc.Workers,
		objects:        NewBlockStorage[GameObject](blockCap),
		objectIDs:      NewIDTable[int](blockCap),
		managersByType: make(map[reflect.Type]componentManager),
		delayedSet:     make(map[ID]struct{}),
		reloadQueue:    event.NewQueue[resource.Key](),
		reloadFns:      make(map[resource.Key][]reloadEntry),
	}
	w.simulating.Store(desc.Simulate)
	if desc.Resources != nil {
		w.resources = desc.Resources
		w.reloadSub = desc.Resources.Events().Subscribe(w.onResourceEvent)
	}
	return w
}

func (w *World) ID() WorldID                  { return w.id }
func (w *World) Name() string                 { return w.name }
func (w *World) Logger() *zap.Logger          { return w.log }
func (w *World) WriteMarker() *WriteMarker    { return &w.marker }
func (w *World) Resources() *resource.Manager { return w.resources }
func (w *World) IsSimulating() bool           { return w.simulating.Load() }
func (w *World) Frame() uint64                { return w.frame }
func (w *World) LastDelta() time.Duration     { return w.lastDelta }
func (w *World) ObjectCount() int             { return w.objectIDs.Len() }
func (w *World) BlockCapacity() int           { return w.blockCap }

// Write runs fn with the write marker held and releases it on every exit
// path, including panics.
func (w *World) Write(fn func() error) error {
	w.marker.Lock()
	defer w.marker.Unlock()
	return fn()
}

func (w *World) checkMutable() error {
	if !w.marker.Held() {
		return ErrNotLocked
	}
	if w.asyncPhase.Load() {
		return ErrAsyncPhase
	}
	return nil
}

// SetSimulation starts or stops simulation. Starting notifies every active
// SimulationStarter component once.
func (w *World) SetSimulation(enabled bool) {
	if w.simulating.Swap(enabled) == enabled || !enabled {
		return
	}
	for _, m := range w.managers {
		m.startSimulation()
	}
}

// ── Objects ───────────────────────────────────────────────────────

// CreateObject adds a game object. The returned pointer is valid until the
// next structural change. The write marker must be held.
func (w *World) CreateObject(desc GameObjectDesc) (GameObjectHandle, *GameObject, error) {
	if err := w.checkMutable(); err != nil {
		return GameObjectHandle{}, nil, err
	}
	desc = desc.normalized()
	if !desc.Parent.IsZero() {
		if _, ok := w.TryGetObject(desc.Parent); !ok {
			return GameObjectHandle{}, nil, fmt.Errorf("parent %s: %w", desc.Parent, ErrObjectNotFound)
		}
	}

	obj, idx := w.objects.Create()
	id, err := w.objectIDs.Allocate(idx)
	if err != nil {
		w.objects.Delete(idx)
		return GameObjectHandle{}, nil, fmt.Errorf("create object: %w", err)
	}
	h := GameObjectHandle{id: id, world: w.id}
	*obj = GameObject{
		handle:        h,
		name:          desc.Name,
		parent:        desc.Parent,
		tags:          slices.Clone(desc.Tags),
		active:        !desc.Inactive,
		LocalPosition: desc.Position,
		LocalRotation: desc.Rotation,
		LocalScale:    desc.Scale,
	}
	if !desc.Parent.IsZero() {
		p, _ := w.TryGetObject(desc.Parent)
		p.children = append(p.children, h)
	}
	return h, obj, nil
}

// TryGetObject resolves h. Stale handles and handles of other worlds report
// false.
func (w *World) TryGetObject(h GameObjectHandle) (*GameObject, bool) {
	if h.world != w.id {
		return nil, false
	}
	idx, ok := w.objectIDs.TryResolve(h.id)
	if !ok {
		return nil, false
	}
	return w.objects.At(idx), true
}

// Objects yields every live game object.
func (w *World) Objects() iter.Seq[*GameObject] {
	return func(yield func(*GameObject) bool) {
		for _, o := range w.objects.All() {
			if !yield(o) {
				return
			}
		}
	}
}

func (w *World) FindObjectsWithTag(tag string) []GameObjectHandle {
	var out []GameObjectHandle
	for o := range w.Objects() {
		if o.HasTag(tag) {
			out = append(out, o.handle)
		}
	}
	return out
}

// DeleteObjectNow destroys h immediately: children first (or re-parented to
// h's parent when alsoDeleteChildren is false), then h's components, then h.
func (w *World) DeleteObjectNow(h GameObjectHandle, alsoDeleteChildren bool) error {
	if err := w.checkMutable(); err != nil {
		return err
	}
	if _, ok := w.TryGetObject(h); !ok {
		return ErrObjectNotFound
	}
	w.deleteObject(h, alsoDeleteChildren)
	return nil
}

func (w *World) deleteObject(h GameObjectHandle, alsoDeleteChildren bool) {
	obj, ok := w.TryGetObject(h)
	if !ok {
		return
	}
	children := slices.Clone(obj.children)
	parent := obj.parent
	for _, c := range children {
		if alsoDeleteChildren {
			w.deleteObject(c, true)
		} else {
			_ = w.setParent(c, parent)
		}
	}

	if obj, ok = w.TryGetObject(h); !ok {
		return
	}
	for _, ch := range slices.Clone(obj.components) {
		if m := w.managerFor(ch.typeID); m != nil {
			if err := m.deleteComponent(ch); err != nil && !errors.Is(err, ErrStaleHandle) {
				w.log.Warn("delete component", zap.Stringer("component", ch), zap.Error(err))
			}
		}
	}

	if obj, ok = w.TryGetObject(h); !ok {
		return
	}
	if p, ok := w.TryGetObject(obj.parent); ok {
		p.removeChild(h)
	}
	idx, _ := w.objectIDs.Deallocate(h.id)
	if moved := w.objects.Delete(idx); moved != nil {
		w.objectIDs.Set(moved.handle.id, idx)
	}
}

// DeleteObjectDelayed queues h and its children for destruction at the start
// of the next Update. Safe from any goroutine; repeated calls collapse.
func (w *World) DeleteObjectDelayed(h GameObjectHandle) {
	if h.IsZero() || h.world != w.id {
		return
	}
	w.delayedMu.Lock()
	defer w.delayedMu.Unlock()
	if _, ok := w.delayedSet[h.id]; ok {
		return
	}
	w.delayedSet[h.id] = struct{}{}
	w.delayed = append(w.delayed, h)
}

func (w *World) flushDelayedDeletes() {
	w.delayedMu.Lock()
	queue := w.delayed
	w.delayed = nil
	clear(w.delayedSet)
	w.delayedMu.Unlock()

	for _, h := range queue {
		w.deleteObject(h, true)
	}
}

// SetParent moves child under parent. A zero parent makes child a root.
func (w *World) SetParent(child, parent GameObjectHandle) error {
	if err := w.checkMutable(); err != nil {
		return err
	}
	return w.setParent(child, parent)
}

func (w *World) setParent(child, parent GameObjectHandle) error {
	c, ok := w.TryGetObject(child)
	if !ok {
		return ErrObjectNotFound
	}
	if !parent.IsZero() {
		if _, ok := w.TryGetObject(parent); !ok {
			return ErrObjectNotFound
		}
		for a := parent; !a.IsZero(); {
			if a == child {
				return ErrParentCycle
			}
			o, _ := w.TryGetObject(a)
			a = o.parent
		}
	}
	if old, ok := w.TryGetObject(c.parent); ok {
		old.removeChild(child)
	}
	c.parent = parent
	if p, ok := w.TryGetObject(parent); ok {
		p.children = append(p.children, child)
	}
	w.refreshActivation(child)
	return nil
}

// SetObjectActive toggles h's own flag and (de)activates the components of h
// and its descendants accordingly.
func (w *World) SetObjectActive(h GameObjectHandle, active bool) error {
	if err := w.checkMutable(); err != nil {
		return err
	}
	obj, ok := w.TryGetObject(h)
	if !ok {
		return ErrObjectNotFound
	}
	if obj.active == active {
		return nil
	}
	obj.active = active
	w.refreshActivation(h)
	return nil
}

// IsObjectActive reports whether h and all its ancestors are active.
func (w *World) IsObjectActive(h GameObjectHandle) bool {
	return w.isObjectActive(h)
}

func (w *World) isObjectActive(h GameObjectHandle) bool {
	for !h.IsZero() {
		o, ok := w.TryGetObject(h)
		if !ok || !o.active {
			return false
		}
		h = o.parent
	}
	return true
}

func (w *World) refreshActivation(h GameObjectHandle) {
	obj, ok := w.TryGetObject(h)
	if !ok {
		return
	}
	active := w.isObjectActive(h)
	children := slices.Clone(obj.children)
	for _, ch := range slices.Clone(obj.components) {
		if m := w.managerFor(ch.typeID); m != nil {
			m.refreshActivation(ch, active)
		}
	}
	for _, c := range children {
		w.refreshActivation(c)
	}
}

// GlobalTransform composes the local transforms from the root down to h.
func (w *World) GlobalTransform(h GameObjectHandle) (mgl32.Mat4, bool) {
	obj, ok := w.TryGetObject(h)
	if !ok {
		return mgl32.Ident4(), false
	}
	m := obj.LocalTransform()
	for p := obj.parent; !p.IsZero(); {
		po, ok := w.TryGetObject(p)
		if !ok {
			break
		}
		m = po.LocalTransform().Mul4(m)
		p = po.parent
	}
	return m, true
}

// ── Components ────────────────────────────────────────────────────

func (w *World) managerFor(t TypeID) componentManager {
	if t == 0 || int(t) > len(w.managers) {
		return nil
	}
	return w.managers[t-1]
}

// TryGetComponent resolves a handle of any registered type.
func (w *World) TryGetComponent(h ComponentHandle) (Component, bool) {
	if h.world != w.id {
		return nil, false
	}
	m := w.managerFor(h.typeID)
	if m == nil {
		return nil, false
	}
	c, err := m.lookupAny(h)
	return c, err == nil
}

// DeleteComponent deletes a component of any registered type.
func (w *World) DeleteComponent(h ComponentHandle) error {
	if err := w.checkMutable(); err != nil {
		return err
	}
	if h.world != w.id {
		return ErrWorldMismatch
	}
	m := w.managerFor(h.typeID)
	if m == nil {
		return ErrUnknownType
	}
	return m.deleteComponent(h)
}

// ── Update ────────────────────────────────────────────────────────

// Update advances the world one frame: (1) flush delayed deletes, (2) run
// the scheduled update functions phase by phase, (3) release storage of
// components deleted during the passes, (4) run queued resource reload
// callbacks. It takes the write marker for the whole frame.
func (w *World) Update() error {
	w.marker.Lock()
	defer w.marker.Unlock()

	now := time.Now()
	if !w.lastUpdate.IsZero() {
		w.lastDelta = now.Sub(w.lastUpdate)
	}
	w.lastUpdate = now
	w.frame++

	w.flushDelayedDeletes()

	w.updating.Store(true)
	err := w.scheduler.run(w, UpdateContext{World: w, Frame: w.frame, DeltaTime: w.lastDelta})
	w.updating.Store(false)

	for _, m := range w.managers {
		m.flushDead()
	}

	w.dispatchReloads()
	return err
}

// ── Resource reload callbacks ─────────────────────────────────────

// AddResourceReloadFunction registers fn to run during Update after the
// resource identified by key has been reloaded.
func (w *World) AddResourceReloadFunction(key resource.Key, c ComponentHandle, fn ResourceReloadFunc) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	w.reloadFns[key] = append(w.reloadFns[key], reloadEntry{component: c, fn: fn})
}

func (w *World) RemoveResourceReloadFunction(key resource.Key, c ComponentHandle) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	list := slices.DeleteFunc(w.reloadFns[key], func(e reloadEntry) bool { return e.component == c })
	if len(list) == 0 {
		delete(w.reloadFns, key)
		return
	}
	w.reloadFns[key] = list
}

// onResourceEvent runs on whichever goroutine finished the load; it only
// queues the key.
func (w *World) onResourceEvent(ev resource.Event) {
	if ev.Kind != resource.EventContentUpdated || !ev.Reloaded {
		return
	}
	w.reloadMu.Lock()
	_, wanted := w.reloadFns[ev.Key]
	w.reloadMu.Unlock()
	if wanted {
		w.reloadQueue.Emit(ev.Key)
	}
}

func (w *World) dispatchReloads() {
	w.reloadQueue.SwapBuffers()
	w.reloadQueue.Drain(func(key resource.Key) {
		w.reloadMu.Lock()
		entries := slices.Clone(w.reloadFns[key])
		w.reloadMu.Unlock()
		for _, e := range entries {
			if _, ok := w.TryGetComponent(e.component); !ok {
				w.RemoveResourceReloadFunction(key, e.component)
				continue
			}
			e.fn(w, e.component)
		}
	})
}

// Close deinitializes every component, drops all objects and detaches from
// the resource manager.
func (w *World) Close() {
	w.marker.Lock()
	defer w.marker.Unlock()
	if w.reloadSub != nil {
		w.reloadSub.Unsubscribe()
		w.reloadSub = nil
	}
	for _, m := range w.managers {
		m.deinitializeAll()
	}
	w.objects.Clear()
	w.objectIDs = NewIDTable[int](w.blockCap)
	w.log.Debug("world closed")
}
