package ecs

// ComponentState tracks where a component instance is in its lifecycle.
type ComponentState uint8

const (
	StateConstructed ComponentState = iota
	StateInitialized
	StateActivated
	StateDeactivated
	StateDeinitialized
)

func (s ComponentState) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitialized:
		return "initialized"
	case StateActivated:
		return "activated"
	case StateDeactivated:
		return "deactivated"
	case StateDeinitialized:
		return "deinitialized"
	}
	return "unknown"
}

// Component is the capability set every component type provides. Concrete
// types embed ComponentBase, which supplies no-op hooks, and override the
// hooks they care about. Hooks are only ever invoked by the manager or world.
type Component interface {
	base() *ComponentBase

	Initialize()
	Deinitialize()
	OnActivated()
	OnDeactivated()
}

// SimulationStarter is implemented by components that want a callback when
// the world starts simulating, or when they activate in a simulating world.
type SimulationStarter interface {
	OnSimulationStarted()
}

// ComponentBase carries the bookkeeping every component needs. Instances may
// be relocated by storage compaction, so the base refers to its owner by
// handle only.
type ComponentBase struct {
	handle     ComponentHandle
	owner      GameObjectHandle
	world      *World
	state      ComponentState
	enabled    bool
	simStarted bool
}

func (c *ComponentBase) base() *ComponentBase { return c }

func (c *ComponentBase) Initialize()    {}
func (c *ComponentBase) Deinitialize()  {}
func (c *ComponentBase) OnActivated()   {}
func (c *ComponentBase) OnDeactivated() {}

func (c *ComponentBase) Handle() ComponentHandle { return c.handle }
func (c *ComponentBase) Owner() GameObjectHandle { return c.owner }
func (c *ComponentBase) World() *World           { return c.world }
func (c *ComponentBase) State() ComponentState   { return c.state }
func (c *ComponentBase) IsEnabled() bool         { return c.enabled }
func (c *ComponentBase) IsActive() bool          { return c.state == StateActivated }
func (c *ComponentBase) IsInitialized() bool {
	return c.state >= StateInitialized && c.state < StateDeinitialized
}

// OwnerObject resolves the owner through the world. The pointer is only
// valid until the next structural change.
func (c *ComponentBase) OwnerObject() (*GameObject, bool) {
	if c.world == nil {
		return nil, false
	}
	return c.world.TryGetObject(c.owner)
}

// setActivation moves c between Activated and Deactivated. It is a no-op
// when c is already in the requested state or not initialized.
func setActivation(c Component, active bool) {
	b := c.base()
	switch {
	case active && (b.state == StateInitialized || b.state == StateDeactivated):
		c.OnActivated()
		b.state = StateActivated
		if b.world != nil && b.world.IsSimulating() {
			startSimulation(c)
		}
	case !active && b.state == StateActivated:
		c.OnDeactivated()
		b.state = StateDeactivated
	}
}

func startSimulation(c Component) {
	b := c.base()
	if b.simStarted || b.state != StateActivated {
		return
	}
	if s, ok := c.(SimulationStarter); ok {
		b.simStarted = true
		s.OnSimulationStarted()
	}
}
