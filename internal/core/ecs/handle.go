package ecs

import (
	"fmt"
	"sync/atomic"
)

// WorldID identifies a World within the process. Zero is never assigned.
type WorldID uint32

// TypeID identifies a component type within one world. Zero is never assigned.
type TypeID uint32

var nextWorldID atomic.Uint32

// GameObjectHandle references a game object without owning it. The zero value
// never resolves.
type GameObjectHandle struct {
	id    ID
	world WorldID
}

func (h GameObjectHandle) ID() ID         { return h.id }
func (h GameObjectHandle) World() WorldID { return h.world }
func (h GameObjectHandle) IsZero() bool   { return h.id.IsZero() }
func (h GameObjectHandle) String() string {
	return fmt.Sprintf("obj(w%d:%d/%d)", h.world, h.id.Index(), h.id.Generation())
}

// ComponentHandle embeds the slot id, the component type and the owning
// world so that cross-type and cross-world use is detected before any
// storage access.
type ComponentHandle struct {
	id     ID
	typeID TypeID
	world  WorldID
}

func (h ComponentHandle) ID() ID         { return h.id }
func (h ComponentHandle) Type() TypeID   { return h.typeID }
func (h ComponentHandle) World() WorldID { return h.world }
func (h ComponentHandle) IsZero() bool   { return h.id.IsZero() }
func (h ComponentHandle) String() string {
	return fmt.Sprintf("comp(w%d:t%d:%d/%d)", h.world, h.typeID, h.id.Index(), h.id.Generation())
}
