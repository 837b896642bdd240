package ecs

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// GameObjectDesc describes a game object to create. A zero rotation means
// identity and a zero scale means (1,1,1).
type GameObjectDesc struct {
	Name     string
	Parent   GameObjectHandle
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	Tags     []string
	Inactive bool
}

// GameObject is a node in the world's object tree. Parent, children and
// components are referenced by handle only; the object itself lives in block
// storage and may move on any structural change, so do not keep pointers to
// it across one.
type GameObject struct {
	handle     GameObjectHandle
	name       string
	parent     GameObjectHandle
	children   []GameObjectHandle
	components []ComponentHandle
	tags       []string
	active     bool

	LocalPosition mgl32.Vec3
	LocalRotation mgl32.Quat
	LocalScale    mgl32.Vec3
}

func (o *GameObject) Handle() GameObjectHandle { return o.handle }
func (o *GameObject) Name() string             { return o.name }
func (o *GameObject) SetName(name string)      { o.name = name }
func (o *GameObject) Parent() GameObjectHandle { return o.parent }

// IsActive reports the object's own flag; see World.IsObjectActive for the
// effective state including ancestors.
func (o *GameObject) IsActive() bool { return o.active }

// Children returns a copy of the child handles.
func (o *GameObject) Children() []GameObjectHandle { return slices.Clone(o.children) }

// Components returns a copy of the attached component handles.
func (o *GameObject) Components() []ComponentHandle { return slices.Clone(o.components) }

func (o *GameObject) Tags() []string { return slices.Clone(o.tags) }

func (o *GameObject) HasTag(tag string) bool { return slices.Contains(o.tags, tag) }

func (o *GameObject) AddTag(tag string) {
	if !o.HasTag(tag) {
		o.tags = append(o.tags, tag)
	}
}

func (o *GameObject) RemoveTag(tag string) {
	o.tags = slices.DeleteFunc(o.tags, func(t string) bool { return t == tag })
}

// LocalTransform composes translation, rotation and scale.
func (o *GameObject) LocalTransform() mgl32.Mat4 {
	t := mgl32.Translate3D(o.LocalPosition[0], o.LocalPosition[1], o.LocalPosition[2])
	r := o.LocalRotation.Normalize().Mat4()
	s := mgl32.Scale3D(o.LocalScale[0], o.LocalScale[1], o.LocalScale[2])
	return t.Mul4(r).Mul4(s)
}

func (o *GameObject) removeComponent(h ComponentHandle) {
	o.components = slices.DeleteFunc(o.components, func(c ComponentHandle) bool { return c == h })
}

func (o *GameObject) removeChild(h GameObjectHandle) {
	o.children = slices.DeleteFunc(o.children, func(c GameObjectHandle) bool { return c == h })
}

func (d GameObjectDesc) normalized() GameObjectDesc {
	if d.Rotation == (mgl32.Quat{}) {
		d.Rotation = mgl32.QuatIdent()
	}
	if d.Scale == (mgl32.Vec3{}) {
		d.Scale = mgl32.Vec3{1, 1, 1}
	}
	return d
}
