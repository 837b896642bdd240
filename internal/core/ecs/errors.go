package ecs

import "errors"

var (
	// ErrStaleHandle reports a handle whose slot was freed or reused. It is an
	// expected outcome; objects and components disappear asynchronously.
	ErrStaleHandle = errors.New("stale handle")
	// ErrTypeMismatch and ErrWorldMismatch are programmer errors: a handle was
	// passed to the wrong manager or the wrong world.
	ErrTypeMismatch  = errors.New("component handle type mismatch")
	ErrWorldMismatch = errors.New("handle belongs to another world")

	ErrObjectNotFound    = errors.New("game object not found")
	ErrNotLocked         = errors.New("write marker not held")
	ErrAsyncPhase        = errors.New("structural change during async update phase")
	ErrCapacityExhausted = errors.New("handle index space exhausted")
	ErrParentCycle       = errors.New("parent would become its own descendant")
	ErrUnknownType       = errors.New("unknown component type")
)
