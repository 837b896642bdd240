package resource

import (
	"time"

	"go.uber.org/zap"
)

// Handle is a counted reference to a typed resource entry. Copying a Handle
// does not add a reference: use Clone, and Release every handle obtained
// from the manager or from Clone exactly once.
type Handle[R Resource] struct {
	res  R
	base *ResourceBase
}

func newHandle[R Resource](res R) Handle[R] {
	return Handle[R]{res: res, base: res.Base()}
}

func (h Handle[R]) IsValid() bool { return h.base != nil }

func (h Handle[R]) Key() Key {
	if h.base == nil {
		return Key{}
	}
	return h.base.key
}

// State reports StateInvalid for a zero handle.
func (h Handle[R]) State() State {
	if h.base == nil {
		return StateInvalid
	}
	return h.base.State()
}

// Clone adds a reference.
func (h Handle[R]) Clone() Handle[R] {
	if h.base != nil {
		h.base.refs.Add(1)
	}
	return h
}

// Release drops the reference held by h. Unreferenced entries stay cached
// until an eviction sweep removes them.
func (h Handle[R]) Release() {
	if h.base != nil {
		release(h.base)
	}
}

// Typeless returns a new counted type-erased handle to the same entry.
func (h Handle[R]) Typeless() TypelessHandle {
	if h.base == nil {
		return TypelessHandle{}
	}
	h.base.refs.Add(1)
	return TypelessHandle{res: h.res}
}

// TypelessHandle is the type-erased form of Handle, used where the type is
// only known by name (collections, tooling).
type TypelessHandle struct {
	res Resource
}

func (h TypelessHandle) IsValid() bool { return h.res != nil }

// Resource returns the entry without acquiring it.
func (h TypelessHandle) Resource() Resource { return h.res }

func (h TypelessHandle) Key() Key {
	if h.res == nil {
		return Key{}
	}
	return h.res.Base().key
}

func (h TypelessHandle) State() State {
	if h.res == nil {
		return StateInvalid
	}
	return h.res.Base().State()
}

func (h TypelessHandle) Clone() TypelessHandle {
	if h.res != nil {
		h.res.Base().refs.Add(1)
	}
	return h
}

func (h TypelessHandle) Release() {
	if h.res != nil {
		release(h.res.Base())
	}
}

// As converts a typeless handle back to a typed one, adding a reference.
func As[R Resource](h TypelessHandle) (Handle[R], bool) {
	r, ok := h.res.(R)
	if !ok || h.res == nil {
		return Handle[R]{}, false
	}
	r.Base().refs.Add(1)
	return newHandle(r), true
}

func release(b *ResourceBase) {
	if n := b.refs.Add(-1); n <= 0 {
		if n < 0 {
			b.mgr.log.Error("resource released more often than referenced",
				zap.Stringer("key", b.key))
			b.refs.Store(0)
		}
		b.lastUsed.Store(time.Now().UnixNano())
	}
}
