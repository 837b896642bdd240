package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/resource"
)

// ScriptComponent runs a script resource's update(dt) every frame.
type ScriptComponent struct {
	ecs.ComponentBase

	script  resource.Handle[*ScriptResource]
	proto   *lua.FunctionProto // proto env was built from
	env     *lua.LTable
	reloads int
}

// Components is the world's script component manager.
type Components = ecs.ComponentManager[ScriptComponent, *ScriptComponent]

// Register adds the script component type to w and schedules script updates
// after the async phase.
func Register(w *ecs.World, e *Engine) *Components {
	m := ecs.RegisterComponentType[ScriptComponent](w, "script")
	m.RegisterUpdateFunction(ecs.UpdateFunctionDesc{
		Name:  "script.update",
		Phase: ecs.PhasePostAsync,
		Func: func(ctx ecs.UpdateContext) {
			for c := range m.Components(ctx) {
				e.run(c, ctx.DeltaTime)
			}
		},
	})
	return m
}

// SetScript hands h to the component, releasing the previous script. The
// component owns the reference from now on.
func (c *ScriptComponent) SetScript(h resource.Handle[*ScriptResource]) {
	w := c.World()
	if c.script.IsValid() {
		w.RemoveResourceReloadFunction(c.script.Key(), c.Handle())
		c.script.Release()
	}
	c.script = h
	c.proto = nil
	c.env = nil
	if h.IsValid() {
		w.AddResourceReloadFunction(h.Key(), c.Handle(), onScriptReloaded)
	}
}

func (c *ScriptComponent) Script() resource.Handle[*ScriptResource] { return c.script }

// Reloads counts how often the script was reloaded while attached.
func (c *ScriptComponent) Reloads() int { return c.reloads }

func (c *ScriptComponent) Deinitialize() {
	if c.script.IsValid() {
		c.World().RemoveResourceReloadFunction(c.script.Key(), c.Handle())
		c.script.Release()
	}
	c.script = resource.Handle[*ScriptResource]{}
	c.proto = nil
	c.env = nil
}

// onScriptReloaded drops the component's environment so the next update
// re-runs the reloaded chunk.
func onScriptReloaded(w *ecs.World, ch ecs.ComponentHandle) {
	m, ok := ecs.ComponentManagerOf[ScriptComponent](w)
	if !ok {
		return
	}
	if c, ok := m.TryGetComponent(ch); ok {
		c.proto = nil
		c.env = nil
		c.reloads++
	}
}
