package resource

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/event"
)

// EventKind tags a resource Event.
type EventKind int

const (
	EventCreated EventKind = iota
	EventDeleted
	EventContentUpdated
	EventContentUnloading
	EventLoadFailed
	EventReloadTriggered
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventContentUpdated:
		return "content-updated"
	case EventContentUnloading:
		return "content-unloading"
	case EventLoadFailed:
		return "load-failed"
	case EventReloadTriggered:
		return "reload-triggered"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is broadcast by the manager on every entry transition. Reloaded is
// set on the first content update after a reload.
type Event struct {
	Kind     EventKind
	Key      Key
	State    State
	Reloaded bool
	Err      error
}

// Ref is implemented by Handle and TypelessHandle.
type Ref interface {
	entry() Resource
}

func (h Handle[R]) entry() Resource {
	if h.base == nil {
		return nil
	}
	return h.res
}

func (h TypelessHandle) entry() Resource { return h.res }

// Manager is the resource registry. It owns the streaming goroutines and
// every entry's lifetime; entries are shared by all worlds using it.
type Manager struct {
	cfg    config.ResourceConfig
	log    *zap.Logger
	events *event.Source[Event]

	typesMu     sync.RWMutex
	typesByName map[string]*resourceType
	typesByGo   map[reflect.Type]*resourceType

	mu      sync.Mutex
	entries map[Key]Resource

	namesMu sync.RWMutex
	names   map[string]Key

	queueMu sync.Mutex
	queue   []Resource
	wake    chan struct{}

	cancel context.CancelFunc
	group     *errgroup.Group
	streaming atomic.Bool
	closed    atomic.Bool
}

func NewManager(cfg config.ResourceConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:         cfg,
		log:         log,
		events:      event.NewSource[Event](),
		typesByName: make(map[string]*resourceType),
		typesByGo:   make(map[reflect.Type]*resourceType),
		entries:     make(map[Key]Resource),
		names:       make(map[string]Key),
		wake:        make(chan struct{}, 1),
	}
}

func (m *Manager) Events() *event.Source[Event]  { return m.events }
func (m *Manager) Logger() *zap.Logger           { return m.log }
func (m *Manager) Config() config.ResourceConfig { return m.cfg }

// Start launches cfg.Workers streaming goroutines. Without them loads only
// happen when a blocking Acquire performs them on the caller's goroutine.
func (m *Manager) Start(ctx context.Context) {
	if m.group != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	m.group = g
	m.streaming.Store(true)
	workers := max(m.cfg.Workers, 1)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return m.worker(ctx) })
	}
	m.log.Info("resource streaming started", zap.Int("workers", workers))
}

// Shutdown stops the streaming goroutines, releases type fallbacks and
// unloads every entry. Entries still referenced are unloaded anyway and
// reported.
func (m *Manager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	if m.cancel != nil {
		m.cancel()
		_ = m.group.Wait()
		m.streaming.Store(false)
		m.dropQueued()
	}

	m.typesMu.RLock()
	types := make([]*resourceType, 0, len(m.typesByName))
	for _, t := range m.typesByName {
		types = append(types, t)
	}
	m.typesMu.RUnlock()
	for _, t := range types {
		t.mu.Lock()
		loading, missing := t.loadingFallback, t.missingFallback
		t.loadingFallback, t.missingFallback = TypelessHandle{}, TypelessHandle{}
		t.mu.Unlock()
		loading.Release()
		missing.Release()
	}

	freed := m.FreeAllUnusedResources()
	m.mu.Lock()
	leaked := make([]Resource, 0, len(m.entries))
	for key, r := range m.entries {
		leaked = append(leaked, r)
		delete(m.entries, key)
	}
	m.mu.Unlock()
	for _, r := range leaked {
		m.log.Warn("resource still referenced at shutdown",
			zap.Stringer("key", r.Base().key),
			zap.Int("refs", r.Base().RefCount()))
		m.unload(r)
	}
	m.log.Info("resource manager shut down",
		zap.Int("freed", freed), zap.Int("leaked", len(leaked)))
}

// LoadResource returns a handle to the R entry with the given id or
// registered name, creating an unloaded entry when none exists. It never
// blocks on IO.
func LoadResource[R Resource](m *Manager, id string) (Handle[R], error) {
	if m.closed.Load() {
		return Handle[R]{}, ErrManagerShutdown
	}
	t, err := m.typeByGo(reflect.TypeFor[R]())
	if err != nil {
		return Handle[R]{}, err
	}
	r, _ := m.getOrCreate(t, m.resolve(t.name, id), false)
	return newHandle(r.(R)), nil
}

// LoadTypeless is LoadResource keyed by registered type name.
func (m *Manager) LoadTypeless(typeName, id string) (TypelessHandle, error) {
	if m.closed.Load() {
		return TypelessHandle{}, ErrManagerShutdown
	}
	t, err := m.typeByName(typeName)
	if err != nil {
		return TypelessHandle{}, err
	}
	r, _ := m.getOrCreate(t, m.resolve(t.name, id), false)
	return TypelessHandle{res: r}, nil
}

// CreateResource builds an R entry from desc instead of a loader. An empty
// id is replaced by GenerateID, and creating the same generated id twice
// returns the existing entry. An explicit id that already exists fails with
// ErrAlreadyExists. When CreateContent fails the returned handle is valid
// and the entry is StateLoadedResourceMissing.
func CreateResource[R Resource](m *Manager, id string, desc any) (Handle[R], error) {
	if m.closed.Load() {
		return Handle[R]{}, ErrManagerShutdown
	}
	goType := reflect.TypeFor[R]()
	t, err := m.typeByGo(goType)
	if err != nil {
		return Handle[R]{}, err
	}
	if !goType.Implements(reflect.TypeFor[Creatable]()) {
		return Handle[R]{}, fmt.Errorf("create %s: %w", t.name, ErrNotCreatable)
	}
	generated := id == ""
	if generated {
		id = GenerateID(t.name, desc)
	}
	r, created := m.getOrCreate(t, id, true)
	h := newHandle(r.(R))
	if !created {
		if generated {
			return h, nil
		}
		h.Release()
		return Handle[R]{}, fmt.Errorf("create %s: %w", Key{t.name, id}, ErrAlreadyExists)
	}

	b := r.Base()
	b.content.Lock()
	ld, err := createContent(r.(Creatable), desc)
	b.content.Unlock()
	m.finishLoad(r, ld, err, false, 0)
	if err != nil {
		return h, fmt.Errorf("create %s: %w", b.key, err)
	}
	return h, nil
}

func createContent(c Creatable, desc any) (ld LoadDesc, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("create content: panic: %v", p)
		}
	}()
	ld, err = c.CreateContent(desc)
	if err == nil && ld.State == StateLoadedResourceMissing {
		err = ErrContentMissing
	}
	return ld, err
}

func (m *Manager) getOrCreate(t *resourceType, id string, creating bool) (Resource, bool) {
	key := Key{Type: t.name, ID: id}
	m.mu.Lock()
	if r, ok := m.entries[key]; ok {
		r.Base().refs.Add(1)
		m.mu.Unlock()
		return r, false
	}
	r := t.newFn()
	b := r.Base()
	b.init(key, t, m)
	b.refs.Store(1)
	if creating {
		b.created = true
		b.state = StateLoading
		b.done = make(chan struct{})
	}
	m.entries[key] = r
	m.mu.Unlock()

	m.events.Broadcast(Event{Kind: EventCreated, Key: key, State: StateUnloaded})
	return r, true
}

// Find returns a new reference to an existing entry without creating one.
func (m *Manager) Find(key Key) (TypelessHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[key]
	if !ok {
		return TypelessHandle{}, false
	}
	r.Base().refs.Add(1)
	return TypelessHandle{res: r}, true
}

func (m *Manager) snapshot() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, 0, len(m.entries))
	for _, r := range m.entries {
		out = append(out, r)
	}
	return out
}

// Stats summarizes the registry.
type Stats struct {
	Total   int
	ByState map[State]int
	Memory  MemoryUsage
	Queued  int
}

func (m *Manager) Stats() Stats {
	s := Stats{ByState: make(map[State]int)}
	for _, r := range m.snapshot() {
		b := r.Base()
		s.Total++
		s.ByState[b.State()]++
		s.Memory.add(b.MemoryUsage())
	}
	m.queueMu.Lock()
	s.Queued = len(m.queue)
	m.queueMu.Unlock()
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("total=%d loaded=%d loading=%d missing=%d unloaded=%d queued=%d cpu=%dB gpu=%dB",
		s.Total, s.ByState[StateLoaded], s.ByState[StateLoading],
		s.ByState[StateLoadedResourceMissing], s.ByState[StateUnloaded],
		s.Queued, s.Memory.CPU, s.Memory.GPU)
}
