package ecs

import "iter"

// DefaultBlockCapacity is the number of instances per storage block.
const DefaultBlockCapacity = 128

// BlockStorage keeps instances in fixed-capacity blocks. A block's backing
// array never moves, so a pointer stays valid until the instance is deleted
// or relocated by swap-removal. The storage knows nothing about handles;
// callers fix their own tables from the moved instance Delete reports.
type BlockStorage[T any] struct {
	blockCap int
	blocks   [][]T
	count    int
}

// NewBlockStorage creates a storage with the given block capacity, which is
// rounded up to a power of two. Zero selects DefaultBlockCapacity.
func NewBlockStorage[T any](blockCap int) *BlockStorage[T] {
	if blockCap <= 0 {
		blockCap = DefaultBlockCapacity
	}
	return &BlockStorage[T]{blockCap: nextPow2(blockCap)}
}

func (s *BlockStorage[T]) BlockCapacity() int { return s.blockCap }
func (s *BlockStorage[T]) Len() int           { return s.count }

// Create appends a zero instance and returns it with its index.
func (s *BlockStorage[T]) Create() (*T, int) {
	idx := s.count
	b := idx / s.blockCap
	if b == len(s.blocks) {
		s.blocks = append(s.blocks, make([]T, s.blockCap))
	}
	s.count++
	return &s.blocks[b][idx%s.blockCap], idx
}

// At returns the instance at i, or nil when i is out of range.
func (s *BlockStorage[T]) At(i int) *T {
	if i < 0 || i >= s.count {
		return nil
	}
	return &s.blocks[i/s.blockCap][i%s.blockCap]
}

// Delete removes the instance at i by moving the last instance into its
// place. It returns the moved instance (now at index i), or nil when i was
// the last element.
func (s *BlockStorage[T]) Delete(i int) (moved *T) {
	if i < 0 || i >= s.count {
		return nil
	}
	last := s.count - 1
	dst := s.At(i)
	var zero T
	if i != last {
		src := s.At(last)
		*dst = *src
		*src = zero
		moved = dst
	} else {
		*dst = zero
	}
	s.count--
	s.shrink()
	return moved
}

// Clear drops every instance and all blocks.
func (s *BlockStorage[T]) Clear() {
	s.blocks = nil
	s.count = 0
}

// All yields every live instance in index order.
func (s *BlockStorage[T]) All() iter.Seq2[int, *T] {
	return s.Range(0, s.count)
}

// Range yields instances in [start, start+count), clamped to the live range.
// The length is re-checked on each step, so deleting while ranging never
// yields a dead slot.
func (s *BlockStorage[T]) Range(start, count int) iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		if start < 0 {
			count += start
			start = 0
		}
		for i := start; i < start+count && i < s.count; i++ {
			if !yield(i, &s.blocks[i/s.blockCap][i%s.blockCap]) {
				return
			}
		}
	}
}

// shrink keeps at most one empty spare block after the last live one.
func (s *BlockStorage[T]) shrink() {
	used := (s.count + s.blockCap - 1) / s.blockCap
	if len(s.blocks) > used+1 {
		for i := used + 1; i < len(s.blocks); i++ {
			s.blocks[i] = nil
		}
		s.blocks = s.blocks[:used+1]
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
