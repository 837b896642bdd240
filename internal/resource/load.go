package resource

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// PreloadResource queues an unloaded entry for streaming. It is idempotent:
// entries already loading, loaded or missing are left alone.
func (m *Manager) PreloadResource(h Ref) bool {
	r := h.entry()
	if r == nil {
		return false
	}
	return m.preload(r)
}

func (m *Manager) preload(r Resource) bool {
	b := r.Base()
	b.touch()
	b.mu.Lock()
	if b.state != StateUnloaded {
		b.mu.Unlock()
		return false
	}
	b.state = StateLoading
	b.done = make(chan struct{})
	b.mu.Unlock()
	m.enqueue(r, false)
	return true
}

// LoadQualityLevel queues one more content pass for a loaded entry that
// reports loadable quality levels. Without streaming workers the pass runs
// on the caller's goroutine before LoadQualityLevel returns.
func (m *Manager) LoadQualityLevel(h Ref) bool {
	r := h.entry()
	if r == nil {
		return false
	}
	if !m.streaming.Load() {
		return m.loadQualityInline(r)
	}
	return m.enqueueQuality(r)
}

func (m *Manager) loadQualityInline(r Resource) bool {
	b := r.Base()
	b.mu.Lock()
	ok := b.state == StateLoaded && b.loadable > 0 && !b.pending.Load()
	b.mu.Unlock()
	if ok {
		m.load(context.Background(), r, true)
	}
	return ok
}

// DiscardQualityLevel drops one quality level from a loaded entry that is
// not currently acquired.
func (m *Manager) DiscardQualityLevel(h Ref) bool {
	r := h.entry()
	if r == nil {
		return false
	}
	b := r.Base()
	if b.isLocked() {
		return false
	}
	b.mu.Lock()
	ok := b.state == StateLoaded && b.discardable > 0
	b.mu.Unlock()
	if !ok {
		return false
	}

	b.content.Lock()
	ld := m.unloadLocked(r, UnloadOneQualityLevel)
	b.mu.Lock()
	if ld.State != StateUnloaded {
		ld.State = StateLoaded
	}
	b.applyDesc(ld)
	b.epoch++
	b.mu.Unlock()
	b.content.Unlock()
	refreshMemory(r)
	return true
}

func (m *Manager) enqueue(r Resource, quality bool) {
	b := r.Base()
	b.pendingQual.Store(quality)
	b.pending.Store(true)
	m.push(r)
}

// enqueueQuality queues a quality pass unless the entry left StateLoaded or
// already has a pass queued. A queued full load is never downgraded.
func (m *Manager) enqueueQuality(r Resource) bool {
	b := r.Base()
	b.mu.Lock()
	if b.state != StateLoaded || b.loadable <= 0 || b.pending.Load() {
		b.mu.Unlock()
		return false
	}
	b.pendingQual.Store(true)
	b.pending.Store(true)
	b.mu.Unlock()
	m.push(r)
	return true
}

func (m *Manager) push(r Resource) {
	m.queueMu.Lock()
	m.queue = append(m.queue, r)
	m.queueMu.Unlock()
	m.signal()
}

// dropQueued clears every queued pass once the workers are gone.
func (m *Manager) dropQueued() {
	m.queueMu.Lock()
	queue := m.queue
	m.queue = nil
	m.queueMu.Unlock()
	for _, r := range queue {
		if r.Base().pendingQual.Load() {
			r.Base().pending.CompareAndSwap(true, false)
		}
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) next(ctx context.Context) (Resource, bool) {
	for {
		m.queueMu.Lock()
		if len(m.queue) > 0 {
			r := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			more := len(m.queue) > 0
			m.queueMu.Unlock()
			if more {
				m.signal()
			}
			return r, true
		}
		m.queueMu.Unlock()
		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (m *Manager) worker(ctx context.Context) error {
	for {
		r, ok := m.next(ctx)
		if !ok {
			return nil
		}
		b := r.Base()
		// a blocking Acquire may already have taken it
		if !b.pending.CompareAndSwap(true, false) {
			continue
		}
		m.load(ctx, r, b.pendingQual.Load())
	}
}

// waitLoaded blocks until r leaves StateLoading. A queued load nobody has
// picked up yet is performed on the calling goroutine.
func (m *Manager) waitLoaded(ctx context.Context, r Resource) (State, error) {
	b := r.Base()
	for {
		b.mu.Lock()
		st, done := b.state, b.done
		b.mu.Unlock()
		if st != StateLoading {
			return st, nil
		}
		if b.pending.CompareAndSwap(true, false) {
			m.load(ctx, r, b.pendingQual.Load())
			continue
		}
		if done == nil {
			runtime.Gosched()
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (m *Manager) load(ctx context.Context, r Resource, quality bool) {
	ld, epoch, err := m.stream(ctx, r, quality)
	m.finishLoad(r, ld, err, quality, epoch)
}

// stream runs OpenDataStream, UpdateContent and CloseDataStream. Panics in
// the resource become errors. A quality pass is skipped when the content it
// would extend was unloaded in the meantime. The returned epoch identifies
// the content the pass streamed into.
func (m *Manager) stream(ctx context.Context, r Resource, quality bool) (ld LoadDesc, epoch uint64, err error) {
	b := r.Base()
	loader := b.typ.loader
	if loader == nil {
		return LoadDesc{}, 0, ErrNoLoader
	}
	data, err := loader.OpenDataStream(ctx, r)
	if err != nil {
		return LoadDesc{}, 0, err
	}
	defer loader.CloseDataStream(r, data)

	b.content.Lock()
	defer b.content.Unlock()
	b.mu.Lock()
	st := b.state
	epoch = b.epoch
	b.mu.Unlock()
	if quality && st != StateLoaded {
		return LoadDesc{}, epoch, errStalePass
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("update content: panic: %v", p)
		}
	}()
	ld = r.UpdateContent(data.Reader)
	if ld.State == StateLoadedResourceMissing {
		err = ErrContentMissing
	}
	return ld, epoch, err
}

func (m *Manager) finishLoad(r Resource, ld LoadDesc, err error, quality bool, epoch uint64) {
	b := r.Base()
	b.mu.Lock()
	if quality && (err == errStalePass || b.state != StateLoaded || b.epoch != epoch) {
		// the entry was reloaded or evicted; its own pass owns the state
		b.mu.Unlock()
		return
	}
	logFailure := false
	switch {
	case err != nil && quality:
		// keep the levels already there
		b.loadable = 0
	case err != nil:
		b.state = StateLoadedResourceMissing
		b.discardable, b.loadable = 0, 0
		logFailure = !b.failureLogged
		b.failureLogged = true
	default:
		if ld.State != StateLoaded {
			ld.State = StateLoaded
		}
		b.applyDesc(ld)
	}
	reloaded := false
	var done chan struct{}
	if !quality {
		reloaded = b.reloading
		b.reloading = false
		done = b.done
		b.done = nil
	}
	state := b.state
	streamMore := err == nil && b.typ.stream && b.loadable > 0
	b.mu.Unlock()

	if done != nil {
		close(done)
	}
	refreshMemory(r)

	if err != nil {
		if logFailure {
			m.log.Warn("resource load failed",
				zap.Stringer("key", b.key),
				zap.Bool("quality_pass", quality),
				zap.Error(err))
		}
		if !quality {
			m.events.Broadcast(Event{Kind: EventLoadFailed, Key: b.key, State: state, Reloaded: reloaded, Err: err})
		}
		return
	}

	if ce := m.log.Check(zap.DebugLevel, "resource loaded"); ce != nil {
		d, l := b.QualityLevels()
		ce.Write(zap.Stringer("key", b.key),
			zap.Int("discardable", d),
			zap.Int("loadable", l),
			zap.Bool("reloaded", reloaded))
	}
	m.events.Broadcast(Event{Kind: EventContentUpdated, Key: b.key, State: state, Reloaded: reloaded})
	if streamMore && b.isReferenced() && !m.closed.Load() && m.streaming.Load() {
		m.enqueueQuality(r)
	}
}
