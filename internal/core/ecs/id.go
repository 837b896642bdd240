package ecs

import (
	"iter"
	"math"
)

// ID encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on deallocation to invalidate
// stale refs. Generations start at 1, so the zero ID never resolves.
type ID uint64

func NewID(index uint32, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

func (id ID) Index() uint32      { return uint32(id) }
func (id ID) Generation() uint32 { return uint32(id >> 32) }
func (id ID) IsZero() bool       { return id == 0 }

// maxIndex is reserved so that a full index space is reported instead of
// silently wrapping.
const maxIndex = math.MaxUint32 - 1

type idSlot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// IDTable maps generation-checked IDs to values with a free list for slot
// reuse. Not goroutine-safe; the owning world serializes writers.
//
// A slot whose generation would wrap past MaxUint32 is retired rather than
// reused, so a (index, generation) pair is never handed out twice.
type IDTable[T any] struct {
	slots    []idSlot[T]
	freeList []uint32
	count    int
}

func NewIDTable[T any](capacity int) *IDTable[T] {
	return &IDTable[T]{
		slots:    make([]idSlot[T], 0, capacity),
		freeList: make([]uint32, 0, capacity/4),
	}
}

// Allocate stores v in a reused or newly appended slot and returns its ID.
func (t *IDTable[T]) Allocate(v T) (ID, error) {
	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		if uint64(len(t.slots)) > maxIndex {
			return 0, ErrCapacityExhausted
		}
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, idSlot[T]{generation: 1})
	}
	s := &t.slots[idx]
	s.live = true
	s.value = v
	t.count++
	return NewID(idx, s.generation), nil
}

// Deallocate invalidates every outstanding copy of id and returns the value
// it held. Stale or unknown IDs report false.
func (t *IDTable[T]) Deallocate(id ID) (T, bool) {
	var zero T
	s := t.slot(id)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.live = false
	t.count--
	if s.generation == math.MaxUint32 {
		return v, true // retired
	}
	s.generation++
	t.freeList = append(t.freeList, id.Index())
	return v, true
}

// TryResolve returns the value for id, or false when the ID is stale or out
// of range.
func (t *IDTable[T]) TryResolve(id ID) (T, bool) {
	if s := t.slot(id); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Set replaces the value stored for a live id.
func (t *IDTable[T]) Set(id ID, v T) bool {
	s := t.slot(id)
	if s == nil {
		return false
	}
	s.value = v
	return true
}

func (t *IDTable[T]) Contains(id ID) bool { return t.slot(id) != nil }

func (t *IDTable[T]) Len() int { return t.count }

// All yields every live ID and value in slot order.
func (t *IDTable[T]) All() iter.Seq2[ID, T] {
	return func(yield func(ID, T) bool) {
		for i := range t.slots {
			s := &t.slots[i]
			if !s.live {
				continue
			}
			if !yield(NewID(uint32(i), s.generation), s.value) {
				return
			}
		}
	}
}

func (t *IDTable[T]) slot(id ID) *idSlot[T] {
	idx := id.Index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.live || s.generation != id.Generation() {
		return nil
	}
	return s
}
