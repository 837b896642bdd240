package ecs

import (
	"errors"
	"fmt"
	"iter"
	"reflect"

	"go.uber.org/zap"
)

// componentPtr constrains PT to *T implementing Component, so managers can
// store T by value in block storage and still call the hooks.
type componentPtr[T any] interface {
	*T
	Component
}

// componentManager is the type-erased view the world and scheduler use.
type componentManager interface {
	TypeID() TypeID
	Name() string
	Len() int
	BlockCapacity() int

	lookupAny(h ComponentHandle) (Component, error)
	deleteComponent(h ComponentHandle) error
	refreshActivation(h ComponentHandle, ownerActive bool)
	startSimulation()
	flushDead()
	deinitializeAll()
}

// ComponentManager owns the storage of one component type in one world.
type ComponentManager[T any, PT componentPtr[T]] struct {
	world   *World
	typeID  TypeID
	name    string
	storage *BlockStorage[T]
	ids     *IDTable[int]
	dead    []ID
}

// RegisterComponentType returns the world's manager for T, creating it on
// first use. Registration must not race with Update.
func RegisterComponentType[T any, PT componentPtr[T]](w *World, name string) *ComponentManager[T, PT] {
	t := reflect.TypeFor[T]()
	if m, ok := w.managersByType[t]; ok {
		return m.(*ComponentManager[T, PT])
	}
	if name == "" {
		name = t.Name()
	}
	m := &ComponentManager[T, PT]{
		world:   w,
		typeID:  TypeID(len(w.managers) + 1),
		name:    name,
		storage: NewBlockStorage[T](w.blockCap),
		ids:     NewIDTable[int](w.blockCap),
	}
	w.managers = append(w.managers, m)
	w.managersByType[t] = m
	w.log.Debug("component type registered",
		zap.String("type", name), zap.Uint32("type_id", uint32(m.typeID)))
	return m
}

// ComponentManagerOf returns the registered manager for T, if any.
func ComponentManagerOf[T any, PT componentPtr[T]](w *World) (*ComponentManager[T, PT], bool) {
	m, ok := w.managersByType[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	return m.(*ComponentManager[T, PT]), true
}

func (m *ComponentManager[T, PT]) TypeID() TypeID     { return m.typeID }
func (m *ComponentManager[T, PT]) Name() string       { return m.name }
func (m *ComponentManager[T, PT]) World() *World      { return m.world }
func (m *ComponentManager[T, PT]) Len() int           { return m.storage.Len() }
func (m *ComponentManager[T, PT]) BlockCapacity() int { return m.storage.BlockCapacity() }

// CreateComponent allocates a component, attaches it to owner and runs
// Initialize, then OnActivated when the owner is active. The write marker
// must be held.
func (m *ComponentManager[T, PT]) CreateComponent(owner GameObjectHandle) (ComponentHandle, PT, error) {
	w := m.world
	if err := w.checkMutable(); err != nil {
		return ComponentHandle{}, nil, err
	}
	obj, ok := w.TryGetObject(owner)
	if !ok {
		return ComponentHandle{}, nil, fmt.Errorf("create %s on %s: %w", m.name, owner, ErrObjectNotFound)
	}

	inst, idx := m.storage.Create()
	id, err := m.ids.Allocate(idx)
	if err != nil {
		m.storage.Delete(idx)
		return ComponentHandle{}, nil, fmt.Errorf("create %s: %w", m.name, err)
	}
	h := ComponentHandle{id: id, typeID: m.typeID, world: w.id}
	p := PT(inst)
	b := p.base()
	b.handle = h
	b.owner = owner
	b.world = w
	b.state = StateConstructed
	b.enabled = true
	obj.components = append(obj.components, h)

	p.Initialize()
	// Initialize may delete a sibling, and swap-removal may move this instance
	idx, ok = m.ids.TryResolve(id)
	if !ok {
		return h, nil, fmt.Errorf("create %s: %w", m.name, ErrStaleHandle)
	}
	p = PT(m.storage.At(idx))
	b = p.base()
	if b.state == StateDeinitialized {
		return h, nil, fmt.Errorf("create %s: %w", m.name, ErrStaleHandle)
	}
	b.state = StateInitialized
	if w.isObjectActive(owner) {
		setActivation(p, true)
	}
	return h, p, nil
}

// DeleteComponent deactivates and deinitializes the component, detaches it
// from its owner and removes it from storage. During an update pass the
// storage removal is deferred to the end of the frame; the handle goes stale
// immediately either way.
func (m *ComponentManager[T, PT]) DeleteComponent(h ComponentHandle) error {
	if err := m.world.checkMutable(); err != nil {
		return err
	}
	return m.deleteComponent(h)
}

func (m *ComponentManager[T, PT]) deleteComponent(h ComponentHandle) error {
	p, err := m.Lookup(h)
	if err != nil {
		return err
	}
	setActivation(p, false)
	p.Deinitialize()

	// hooks may have moved p
	idx, ok := m.ids.TryResolve(h.id)
	if !ok {
		return nil
	}
	p = PT(m.storage.At(idx))
	b := p.base()
	b.state = StateDeinitialized
	if obj, ok := m.world.TryGetObject(b.owner); ok {
		obj.removeComponent(h)
	}

	if m.world.updating.Load() {
		m.dead = append(m.dead, h.id)
		return nil
	}
	m.remove(h.id)
	return nil
}

func (m *ComponentManager[T, PT]) remove(id ID) {
	idx, ok := m.ids.Deallocate(id)
	if !ok {
		return
	}
	if moved := m.storage.Delete(idx); moved != nil {
		m.ids.Set(PT(moved).base().handle.id, idx)
	}
}

func (m *ComponentManager[T, PT]) flushDead() {
	for _, id := range m.dead {
		m.remove(id)
	}
	m.dead = m.dead[:0]
}

// Lookup validates the handle's world and type before touching storage.
func (m *ComponentManager[T, PT]) Lookup(h ComponentHandle) (PT, error) {
	if h.IsZero() {
		return nil, ErrStaleHandle
	}
	if h.world != m.world.id {
		return nil, ErrWorldMismatch
	}
	if h.typeID != m.typeID {
		return nil, ErrTypeMismatch
	}
	idx, ok := m.ids.TryResolve(h.id)
	if !ok {
		return nil, ErrStaleHandle
	}
	p := PT(m.storage.At(idx))
	if p.base().state == StateDeinitialized {
		return nil, ErrStaleHandle
	}
	return p, nil
}

// TryGetComponent resolves h. Stale handles quietly report false; handles
// of another type or world also report false but are logged as bugs.
func (m *ComponentManager[T, PT]) TryGetComponent(h ComponentHandle) (PT, bool) {
	p, err := m.Lookup(h)
	if err == nil {
		return p, true
	}
	if !errors.Is(err, ErrStaleHandle) {
		m.world.log.Error("invalid component handle",
			zap.String("manager", m.name),
			zap.Stringer("handle", h),
			zap.Error(err))
	}
	return nil, false
}

func (m *ComponentManager[T, PT]) lookupAny(h ComponentHandle) (Component, error) {
	p, err := m.Lookup(h)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetActive enables or disables one component. The component is activated
// only while both it and its owner chain are active.
func (m *ComponentManager[T, PT]) SetActive(h ComponentHandle, enabled bool) error {
	p, err := m.Lookup(h)
	if err != nil {
		return err
	}
	b := p.base()
	b.enabled = enabled
	setActivation(p, enabled && m.world.isObjectActive(b.owner))
	return nil
}

func (m *ComponentManager[T, PT]) refreshActivation(h ComponentHandle, ownerActive bool) {
	p, err := m.Lookup(h)
	if err != nil {
		return
	}
	setActivation(p, ownerActive && p.base().enabled)
}

func (m *ComponentManager[T, PT]) startSimulation() {
	for _, inst := range m.storage.All() {
		startSimulation(PT(inst))
	}
}

func (m *ComponentManager[T, PT]) deinitializeAll() {
	for _, inst := range m.storage.All() {
		p := PT(inst)
		if !p.base().IsInitialized() {
			continue
		}
		setActivation(p, false)
		p.Deinitialize()
		p.base().state = StateDeinitialized
	}
	m.storage.Clear()
	m.ids = NewIDTable[int](m.world.blockCap)
	m.dead = m.dead[:0]
}

// All yields every live component in storage order.
func (m *ComponentManager[T, PT]) All() iter.Seq[PT] {
	return func(yield func(PT) bool) {
		for _, inst := range m.storage.All() {
			p := PT(inst)
			if p.base().state == StateDeinitialized {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func (m *ComponentManager[T, PT]) active() iter.Seq[PT] {
	return func(yield func(PT) bool) {
		for p := range m.All() {
			if p.base().state == StateActivated && !yield(p) {
				return
			}
		}
	}
}

// Components yields the active components inside ctx's range. Update
// functions use it to walk their share of the storage.
func (m *ComponentManager[T, PT]) Components(ctx UpdateContext) iter.Seq[PT] {
	return func(yield func(PT) bool) {
		for _, inst := range m.storage.Range(ctx.First, ctx.Count) {
			p := PT(inst)
			if p.base().state != StateActivated {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// RegisterUpdateFunction schedules desc.Func to run every world update. The
// granularity is rounded up to a whole number of storage blocks.
func (m *ComponentManager[T, PT]) RegisterUpdateFunction(desc UpdateFunctionDesc) {
	m.world.scheduler.register(m, desc)
}
