package resource

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// TypeDesc registers a resource type with a manager.
type TypeDesc[R Resource] struct {
	Name   string
	New    func() R
	Loader TypeLoader // nil for procedural-only types
	// StreamQualityLevels keeps queueing content passes while the resource
	// is referenced and reports loadable quality levels.
	StreamQualityLevels bool
}

type resourceType struct {
	name   string
	goType reflect.Type
	newFn  func() Resource
	loader TypeLoader
	stream bool

	mu              sync.Mutex
	loadingFallback TypelessHandle
	missingFallback TypelessHandle
}

func (t *resourceType) fallbacks() (loading, missing TypelessHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadingFallback, t.missingFallback
}

// RegisterType makes R loadable through m.
func RegisterType[R Resource](m *Manager, desc TypeDesc[R]) error {
	if desc.New == nil {
		return fmt.Errorf("register %s: New is required", desc.Name)
	}
	goType := reflect.TypeFor[R]()
	if desc.Name == "" {
		desc.Name = goType.String()
	}
	m.typesMu.Lock()
	defer m.typesMu.Unlock()
	if _, ok := m.typesByName[desc.Name]; ok {
		return fmt.Errorf("register %s: %w", desc.Name, ErrTypeRegistered)
	}
	if _, ok := m.typesByGo[goType]; ok {
		return fmt.Errorf("register %s (%s): %w", desc.Name, goType, ErrTypeRegistered)
	}
	newFn := desc.New
	t := &resourceType{
		name:   desc.Name,
		goType: goType,
		newFn:  func() Resource { return newFn() },
		loader: desc.Loader,
		stream: desc.StreamQualityLevels,
	}
	m.typesByName[t.name] = t
	m.typesByGo[goType] = t
	return nil
}

// SetLoadingFallback makes h the content handed out by
// AcquireAllowLoadingFallback while a resource of the same type streams in.
// The manager keeps its own reference; pass a zero handle to clear.
func SetLoadingFallback[R Resource](m *Manager, h Handle[R]) error {
	return m.setFallback(reflect.TypeFor[R](), h.Typeless(), true)
}

// SetMissingFallback makes h the content handed out for resources of the same
// type whose load failed.
func SetMissingFallback[R Resource](m *Manager, h Handle[R]) error {
	return m.setFallback(reflect.TypeFor[R](), h.Typeless(), false)
}

func (m *Manager) setFallback(goType reflect.Type, h TypelessHandle, loading bool) error {
	t, err := m.typeByGo(goType)
	if err != nil {
		h.Release()
		return err
	}
	if h.IsValid() {
		m.PreloadResource(h)
	}
	t.mu.Lock()
	var old TypelessHandle
	if loading {
		old, t.loadingFallback = t.loadingFallback, h
	} else {
		old, t.missingFallback = t.missingFallback, h
	}
	t.mu.Unlock()
	old.Release()
	return nil
}

func (m *Manager) typeByGo(goType reflect.Type) (*resourceType, error) {
	m.typesMu.RLock()
	defer m.typesMu.RUnlock()
	t, ok := m.typesByGo[goType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", goType, ErrUnknownType)
	}
	return t, nil
}

func (m *Manager) typeByName(name string) (*resourceType, error) {
	m.typesMu.RLock()
	defer m.typesMu.RUnlock()
	t, ok := m.typesByName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownType)
	}
	return t, nil
}

// TypeNames lists registered type names.
func (m *Manager) TypeNames() []string {
	m.typesMu.RLock()
	defer m.typesMu.RUnlock()
	return slices.Sorted(maps.Keys(m.typesByName))
}
