package ecs

// Each2 calls fn for every game object that owns an active A and an active
// B. It walks the smaller manager and probes the other through the owner's
// component list. fn must not make structural changes.
func Each2[A any, PA componentPtr[A], B any, PB componentPtr[B]](ma *ComponentManager[A, PA], mb *ComponentManager[B, PB], fn func(GameObjectHandle, PA, PB)) {
	if ma.Len() <= mb.Len() {
		for a := range ma.active() {
			owner := a.base().owner
			if b, ok := siblingOf(mb, owner); ok {
				fn(owner, a, b)
			}
		}
		return
	}
	for b := range mb.active() {
		owner := b.base().owner
		if a, ok := siblingOf(ma, owner); ok {
			fn(owner, a, b)
		}
	}
}

// Each3 is Each2 for three component types. It walks A.
func Each3[A any, PA componentPtr[A], B any, PB componentPtr[B], C any, PC componentPtr[C]](ma *ComponentManager[A, PA], mb *ComponentManager[B, PB], mc *ComponentManager[C, PC], fn func(GameObjectHandle, PA, PB, PC)) {
	for a := range ma.active() {
		owner := a.base().owner
		b, ok := siblingOf(mb, owner)
		if !ok {
			continue
		}
		if c, ok := siblingOf(mc, owner); ok {
			fn(owner, a, b, c)
		}
	}
}

// siblingOf returns the first active T attached to owner.
func siblingOf[T any, PT componentPtr[T]](m *ComponentManager[T, PT], owner GameObjectHandle) (PT, bool) {
	obj, ok := m.world.TryGetObject(owner)
	if !ok {
		return nil, false
	}
	for _, h := range obj.components {
		if h.typeID != m.typeID {
			continue
		}
		if p, err := m.Lookup(h); err == nil && p.base().state == StateActivated {
			return p, true
		}
	}
	return nil, false
}
