package resource

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

const CollectionTypeName = "Collection"

// Collection is a resource listing other resources to preload as a batch.
// Its entries' nice names are registered as aliases while it is loaded.
type Collection struct {
	ResourceBase

	mu      sync.Mutex
	entries []CollectionEntry
	handles []TypelessHandle
	weights []float64
	cursor  int
	named   bool
}

// RegisterCollectionType registers Collection with m, loading descriptors
// through loader.
func RegisterCollectionType(m *Manager, loader TypeLoader) error {
	return RegisterType(m, TypeDesc[*Collection]{
		Name:   CollectionTypeName,
		New:    func() *Collection { return &Collection{} },
		Loader: loader,
	})
}

func (c *Collection) UpdateContent(r io.Reader) LoadDesc {
	var d CollectionDescriptor
	if err := d.Load(r); err != nil {
		c.Manager().Logger().Warn("collection rejected",
			zap.String("id", c.ID()), zap.Error(err))
		return LoadDesc{State: StateLoadedResourceMissing}
	}
	c.setEntries(d.Entries)
	return LoadDesc{State: StateLoaded}
}

// CreateContent builds a collection from a CollectionDescriptor value or
// pointer.
func (c *Collection) CreateContent(desc any) (LoadDesc, error) {
	switch d := desc.(type) {
	case CollectionDescriptor:
		c.setEntries(d.Entries)
	case *CollectionDescriptor:
		c.setEntries(d.Entries)
	default:
		return LoadDesc{State: StateLoadedResourceMissing}, fmt.Errorf("collection descriptor: unexpected %T", desc)
	}
	return LoadDesc{State: StateLoaded}, nil
}

func (c *Collection) setEntries(entries []CollectionEntry) {
	c.UnregisterNames()
	c.mu.Lock()
	c.clearLocked()
	c.entries = append([]CollectionEntry(nil), entries...)
	c.mu.Unlock()
	c.RegisterNames()
}

// UnloadData unregisters the nice names, then releases every handle the
// collection issued.
func (c *Collection) UnloadData(UnloadMode) LoadDesc {
	c.UnregisterNames()
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	return LoadDesc{State: StateUnloaded}
}

func (c *Collection) clearLocked() {
	for _, h := range c.handles {
		h.Release()
	}
	c.entries = nil
	c.handles = nil
	c.weights = nil
	c.cursor = 0
}

func (c *Collection) UpdateMemoryUsage(u *MemoryUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// approximate: string bytes plus fixed per-entry overhead
	const entryOverhead, handleOverhead = 72, 24
	var size uint64
	for _, e := range c.entries {
		size += entryOverhead + uint64(len(e.AssetTypeName)+len(e.NiceName)+len(e.ResourceID))
	}
	size += uint64(len(c.handles)) * handleOverhead
	u.CPU = size
}

// Entries returns a copy of the entry list.
func (c *Collection) Entries() []CollectionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CollectionEntry(nil), c.entries...)
}

// Descriptor returns the collection's content as a descriptor.
func (c *Collection) Descriptor() CollectionDescriptor {
	return CollectionDescriptor{Entries: c.Entries()}
}

// PreloadResources issues preloads for at most maxCount further entries
// (all remaining when maxCount <= 0) and reports whether entries remain.
// Entries already issued are never issued again.
func (c *Collection) PreloadResources(maxCount int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.Manager()
	issued := 0
	for c.cursor < len(c.entries) && (maxCount <= 0 || issued < maxCount) {
		e := c.entries[c.cursor]
		c.cursor++
		if e.AssetTypeName == "" || e.ResourceID == "" {
			continue
		}
		h, err := m.LoadTypeless(e.AssetTypeName, e.ResourceID)
		if err != nil {
			m.Logger().Warn("collection entry skipped",
				zap.String("collection", c.ID()),
				zap.String("type", e.AssetTypeName),
				zap.String("id", e.ResourceID),
				zap.Error(err))
			continue
		}
		m.PreloadResource(h)
		weight := 1.0
		if e.FileSize > 0 {
			weight = float64(e.FileSize)
		}
		c.handles = append(c.handles, h)
		c.weights = append(c.weights, weight)
		issued++
	}
	return c.cursor < len(c.entries)
}

// IsLoadingFinished reports whether every entry was issued and has finished
// loading, and the size-weighted progress of the issued entries in [0,1].
// Failed loads count as finished.
func (c *Collection) IsLoadingFinished() (bool, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total, done float64
	for i, h := range c.handles {
		total += c.weights[i]
		switch h.State() {
		case StateLoaded, StateLoadedResourceMissing:
			done += c.weights[i]
		}
	}
	finished := c.cursor >= len(c.entries) && done == total
	if finished {
		return true, 1
	}
	if total == 0 {
		return false, 0
	}
	return false, done / total
}

// RegisterNames registers every entry's nice name with the manager. It runs
// once per load; repeated calls are no-ops.
func (c *Collection) RegisterNames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.named {
		return
	}
	c.named = true
	m := c.Manager()
	for _, e := range c.entries {
		if e.NiceName != "" {
			m.RegisterNamedResource(e.NiceName, Key{Type: e.AssetTypeName, ID: e.ResourceID})
		}
	}
}

func (c *Collection) UnregisterNames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.named {
		return
	}
	c.named = false
	m := c.Manager()
	for _, e := range c.entries {
		if e.NiceName != "" {
			m.UnregisterNamedResource(e.NiceName)
		}
	}
}
