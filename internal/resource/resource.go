package resource

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// State is the loading state of a resource entry.
type State int32

const (
	StateUnloaded              State = iota // registered, no content
	StateLoading                            // queued or being streamed
	StateLoadedResourceMissing              // load failed; fallback content only
	StateLoaded                             // content available
	StateInvalid                            // removed from the registry
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoadedResourceMissing:
		return "missing"
	case StateLoaded:
		return "loaded"
	case StateInvalid:
		return "invalid"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// UnloadMode selects how much content UnloadData drops.
type UnloadMode int

const (
	UnloadAllQualityLevels UnloadMode = iota
	UnloadOneQualityLevel
)

// LoadDesc is what a resource reports after a content change.
type LoadDesc struct {
	State                    State
	QualityLevelsDiscardable int
	QualityLevelsLoadable    int
}

// MemoryUsage is a resource's self-reported footprint in bytes.
type MemoryUsage struct {
	CPU uint64
	GPU uint64
}

func (u *MemoryUsage) add(o MemoryUsage) {
	u.CPU += o.CPU
	u.GPU += o.GPU
}

// Key identifies a registry entry. The same ID under two types is two
// entries.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string { return k.Type + ":" + k.ID }

// Resource is implemented by every resource type. Implementations embed
// ResourceBase, which provides Base.
type Resource interface {
	Base() *ResourceBase
	// UnloadData drops content and reports what remains.
	UnloadData(mode UnloadMode) LoadDesc
	// UpdateContent consumes a data stream from the type's loader. It runs
	// on a streaming goroutine under the resource's content lock.
	UpdateContent(r io.Reader) LoadDesc
	UpdateMemoryUsage(u *MemoryUsage)
}

// Creatable resources can be built from a descriptor instead of a loader.
type Creatable interface {
	CreateContent(desc any) (LoadDesc, error)
}

// ResourceBase holds the bookkeeping the manager keeps per entry.
type ResourceBase struct {
	key Key
	typ *resourceType
	mgr *Manager

	// content lock, held across UpdateContent and UnloadData
	content sync.Mutex

	mu            sync.Mutex
	state         State
	discardable   int
	loadable      int
	done          chan struct{} // closed when the current load finishes
	reloading     bool
	failureLogged bool
	created       bool
	memory        MemoryUsage
	epoch         uint64 // bumped whenever content is unloaded

	refs        atomic.Int32
	locks       atomic.Int32
	pending     atomic.Bool // queued, not yet claimed by a loader goroutine
	pendingQual atomic.Bool // the queued pass is a quality pass
	lastUsed    atomic.Int64
}

func (b *ResourceBase) Base() *ResourceBase { return b }

func (b *ResourceBase) Key() Key                { return b.key }
func (b *ResourceBase) ID() string              { return b.key.ID }
func (b *ResourceBase) TypeName() string        { return b.key.Type }
func (b *ResourceBase) Manager() *Manager       { return b.mgr }
func (b *ResourceBase) RefCount() int           { return int(b.refs.Load()) }
func (b *ResourceBase) IsCreated() bool         { return b.created }
func (b *ResourceBase) touch()                  { b.lastUsed.Store(time.Now().UnixNano()) }
func (b *ResourceBase) lastUse() time.Time      { return time.Unix(0, b.lastUsed.Load()) }
func (b *ResourceBase) isLocked() bool          { return b.locks.Load() > 0 }
func (b *ResourceBase) isReferenced() bool      { return b.refs.Load() > 0 }
func (b *ResourceBase) isLoadingOrQueued() bool { return b.pending.Load() || b.State() == StateLoading }

func (b *ResourceBase) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// QualityLevels reports how many levels can still be discarded and loaded.
func (b *ResourceBase) QualityLevels() (discardable, loadable int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discardable, b.loadable
}

func (b *ResourceBase) MemoryUsage() MemoryUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memory
}

func (b *ResourceBase) init(key Key, typ *resourceType, m *Manager) {
	b.key = key
	b.typ = typ
	b.mgr = m
	b.state = StateUnloaded
	b.touch()
}

func (b *ResourceBase) applyDesc(d LoadDesc) {
	b.state = d.State
	b.discardable = max(d.QualityLevelsDiscardable, 0)
	b.loadable = max(d.QualityLevelsLoadable, 0)
}

// refreshMemory asks the resource for its footprint under the content lock.
func refreshMemory(r Resource) {
	b := r.Base()
	var u MemoryUsage
	b.content.Lock()
	r.UpdateMemoryUsage(&u)
	b.content.Unlock()
	b.mu.Lock()
	b.memory = u
	b.mu.Unlock()
}
