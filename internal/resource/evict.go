package resource

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FreeAllUnusedResources evicts every unreferenced, unlocked entry that is
// not loading. Sweeps repeat until nothing more is freed, since unloading
// one entry may release the last reference to another.
func (m *Manager) FreeAllUnusedResources() int {
	return m.FreeUnusedResources(0)
}

// FreeUnusedResources is FreeAllUnusedResources restricted to entries left
// unused for at least grace.
func (m *Manager) FreeUnusedResources(grace time.Duration) int {
	total := 0
	for {
		n := m.freePass(grace)
		total += n
		if n == 0 {
			break
		}
	}
	if total > 0 {
		m.log.Debug("unused resources freed",
			zap.Int("count", total), zap.Duration("grace", grace))
	}
	return total
}

func (m *Manager) freePass(grace time.Duration) int {
	now := time.Now()
	var victims []Resource
	m.mu.Lock()
	for key, r := range m.entries {
		b := r.Base()
		if b.isReferenced() || b.isLocked() || b.isLoadingOrQueued() {
			continue
		}
		if grace > 0 && now.Sub(b.lastUse()) < grace {
			continue
		}
		delete(m.entries, key)
		victims = append(victims, r)
	}
	m.mu.Unlock()

	for _, r := range victims {
		m.unload(r)
	}
	return len(victims)
}

// unload drops the content of an entry already removed from the registry.
func (m *Manager) unload(r Resource) {
	b := r.Base()
	st := b.State()
	m.events.Broadcast(Event{Kind: EventContentUnloading, Key: b.key, State: st})
	b.content.Lock()
	if st != StateUnloaded {
		m.unloadLocked(r, UnloadAllQualityLevels)
	}
	b.mu.Lock()
	b.state = StateInvalid
	b.discardable, b.loadable = 0, 0
	b.memory = MemoryUsage{}
	b.epoch++
	b.mu.Unlock()
	b.content.Unlock()
	m.events.Broadcast(Event{Kind: EventDeleted, Key: b.key, State: StateInvalid})
}

func (m *Manager) unloadContent(r Resource, mode UnloadMode) LoadDesc {
	b := r.Base()
	b.content.Lock()
	defer b.content.Unlock()
	return m.unloadLocked(r, mode)
}

// unloadLocked runs UnloadData; the caller holds the content lock.
func (m *Manager) unloadLocked(r Resource, mode UnloadMode) (ld LoadDesc) {
	b := r.Base()
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("resource unload panicked",
				zap.Stringer("key", b.key), zap.Any("panic", p))
			ld = LoadDesc{State: StateUnloaded}
		}
	}()
	return r.UnloadData(mode)
}

// RunAutoFree sweeps with cfg.AutoFreeGrace every cfg.AutoFreeInterval until
// ctx ends.
func (m *Manager) RunAutoFree(ctx context.Context) {
	if m.cfg.AutoFreeInterval <= 0 {
		return
	}
	t := time.NewTicker(m.cfg.AutoFreeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.FreeUnusedResources(m.cfg.AutoFreeGrace)
		}
	}
}

// ReloadResource unloads h's content and queues it again when the entry is
// referenced. Without force only entries whose loader reports them outdated
// are reloaded. Entries that are loading, locked, or were created
// procedurally are skipped. A reload clears StateLoadedResourceMissing.
func (m *Manager) ReloadResource(h Ref, force bool) bool {
	r := h.entry()
	if r == nil {
		return false
	}
	return m.reload(r, force)
}

// ReloadAllResources reloads every entry and returns how many were reset.
func (m *Manager) ReloadAllResources(force bool) int {
	n := 0
	for _, r := range m.snapshot() {
		if m.reload(r, force) {
			n++
		}
	}
	if n > 0 {
		m.log.Info("resources reloaded", zap.Int("count", n), zap.Bool("force", force))
	}
	return n
}

func (m *Manager) reload(r Resource, force bool) bool {
	b := r.Base()
	if b.created || b.isLocked() || b.pending.Load() {
		return false
	}
	st := b.State()
	if st == StateUnloaded || st == StateLoading || st == StateInvalid {
		return false
	}
	loader := b.typ.loader
	if loader == nil {
		return false
	}
	if !force && !loader.IsResourceOutdated(r) {
		return false
	}

	m.events.Broadcast(Event{Kind: EventReloadTriggered, Key: b.key, State: st})
	// state changes under the content lock; quality passes check it there
	b.content.Lock()
	m.unloadLocked(r, UnloadAllQualityLevels)
	b.mu.Lock()
	b.state = StateUnloaded
	b.discardable, b.loadable = 0, 0
	b.epoch++
	b.reloading = true
	b.failureLogged = false
	b.mu.Unlock()
	b.content.Unlock()
	refreshMemory(r)

	m.log.Debug("resource reload", zap.Stringer("key", b.key), zap.Stringer("was", st))
	if b.isReferenced() {
		m.preload(r)
	}
	return true
}
