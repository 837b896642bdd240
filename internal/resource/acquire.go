package resource

import (
	"context"
	"fmt"
	"sync/atomic"
)

// AcquireMode selects what Acquire does when the content is not loaded yet.
type AcquireMode int

const (
	// AcquireBlockTillLoaded queues the entry and waits for its load.
	AcquireBlockTillLoaded AcquireMode = iota
	// AcquireAllowLoadingFallback returns the type's loading fallback while
	// the entry streams in, and blocks only when the type has none.
	AcquireAllowLoadingFallback
	// AcquirePointerOnly never queues and never blocks. Resources use it from
	// UpdateContent to reference each other.
	AcquirePointerOnly
)

func (m AcquireMode) String() string {
	switch m {
	case AcquireBlockTillLoaded:
		return "block-till-loaded"
	case AcquireAllowLoadingFallback:
		return "allow-loading-fallback"
	case AcquirePointerOnly:
		return "pointer-only"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// AcquireResult tells which content a Lock holds.
type AcquireResult int

const (
	AcquireNone AcquireResult = iota
	AcquireFinal
	AcquireLoadingFallback
	AcquireMissingFallback
)

func (r AcquireResult) String() string {
	switch r {
	case AcquireNone:
		return "none"
	case AcquireFinal:
		return "final"
	case AcquireLoadingFallback:
		return "loading-fallback"
	case AcquireMissingFallback:
		return "missing-fallback"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Lock pins a resource's content. Entries with outstanding locks are never
// unloaded or reloaded; Release the lock as soon as the content is no longer
// read.
type Lock[R Resource] struct {
	res      R
	base     *ResourceBase
	result   AcquireResult
	released atomic.Bool
}

// Get returns the locked resource, or the zero R when Result is AcquireNone.
// With AcquirePointerOnly it returns the entry whatever its state.
func (l *Lock[R]) Get() R                { return l.res }
func (l *Lock[R]) Result() AcquireResult { return l.result }

func (l *Lock[R]) Release() {
	if l.base == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.base.locks.Add(-1)
	l.base.touch()
}

func newLock[R Resource](res R, result AcquireResult) *Lock[R] {
	b := res.Base()
	b.locks.Add(1)
	b.touch()
	return &Lock[R]{res: res, base: b, result: result}
}

// Acquire locks h's content according to mode. The error is non-nil only
// for an invalid handle or when ctx ends while waiting.
func Acquire[R Resource](ctx context.Context, h Handle[R], mode AcquireMode) (*Lock[R], error) {
	if !h.IsValid() {
		return nil, ErrInvalidHandle
	}
	b := h.base
	m := b.mgr

	if mode == AcquirePointerOnly {
		result := AcquireNone
		if b.State() == StateLoaded {
			result = AcquireFinal
		}
		return newLock(h.res, result), nil
	}

	m.preload(h.res)
	if mode == AcquireAllowLoadingFallback && b.State() == StateLoading {
		loading, _ := b.typ.fallbacks()
		if l, ok := acquireFallback[R](ctx, loading, AcquireLoadingFallback); ok {
			return l, nil
		}
	}

	st, err := m.waitLoaded(ctx, h.res)
	if err != nil {
		return nil, err
	}
	switch st {
	case StateLoaded:
		return newLock(h.res, AcquireFinal), nil
	case StateLoadedResourceMissing:
		_, missing := b.typ.fallbacks()
		if l, ok := acquireFallback[R](ctx, missing, AcquireMissingFallback); ok {
			return l, nil
		}
	}
	return &Lock[R]{result: AcquireNone}, nil
}

func acquireFallback[R Resource](ctx context.Context, fb TypelessHandle, result AcquireResult) (*Lock[R], bool) {
	if !fb.IsValid() {
		return nil, false
	}
	res, ok := fb.res.(R)
	if !ok {
		return nil, false
	}
	m := res.Base().mgr
	m.preload(res)
	st, err := m.waitLoaded(ctx, res)
	if err != nil || st != StateLoaded {
		return nil, false
	}
	return newLock(res, result), true
}
