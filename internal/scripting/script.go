package scripting

import (
	"bytes"
	"fmt"
	"io"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/resource"
)

const ScriptTypeName = "Script"

// ScriptResource is a compiled Lua chunk. Each content update produces a
// new proto, which is how components notice a reload.
type ScriptResource struct {
	resource.ResourceBase

	source []byte
	proto  *lua.FunctionProto
}

// RegisterScriptType registers ScriptResource with m, loading sources
// through loader.
func RegisterScriptType(m *resource.Manager, loader resource.TypeLoader) error {
	return resource.RegisterType(m, resource.TypeDesc[*ScriptResource]{
		Name:   ScriptTypeName,
		New:    func() *ScriptResource { return &ScriptResource{} },
		Loader: loader,
	})
}

// Proto returns the compiled chunk, nil when nothing is loaded.
func (s *ScriptResource) Proto() *lua.FunctionProto { return s.proto }

func (s *ScriptResource) UpdateContent(r io.Reader) resource.LoadDesc {
	src, err := io.ReadAll(r)
	if err == nil {
		err = s.compile(src)
	}
	if err != nil {
		s.Manager().Logger().Warn("script rejected",
			zap.String("id", s.ID()), zap.Error(err))
		return resource.LoadDesc{State: resource.StateLoadedResourceMissing}
	}
	return resource.LoadDesc{State: resource.StateLoaded}
}

// CreateContent compiles a source given as string or []byte.
func (s *ScriptResource) CreateContent(desc any) (resource.LoadDesc, error) {
	var src []byte
	switch d := desc.(type) {
	case string:
		src = []byte(d)
	case []byte:
		src = d
	default:
		return resource.LoadDesc{State: resource.StateLoadedResourceMissing}, fmt.Errorf("script source: unexpected %T", desc)
	}
	if err := s.compile(src); err != nil {
		return resource.LoadDesc{State: resource.StateLoadedResourceMissing}, err
	}
	return resource.LoadDesc{State: resource.StateLoaded}, nil
}

func (s *ScriptResource) compile(src []byte) error {
	chunk, err := parse.Parse(bytes.NewReader(src), s.ID())
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.ID(), err)
	}
	proto, err := lua.Compile(chunk, s.ID())
	if err != nil {
		return fmt.Errorf("compile %s: %w", s.ID(), err)
	}
	s.source = bytes.Clone(src)
	s.proto = proto
	return nil
}

func (s *ScriptResource) UnloadData(resource.UnloadMode) resource.LoadDesc {
	s.source = nil
	s.proto = nil
	return resource.LoadDesc{State: resource.StateUnloaded}
}

func (s *ScriptResource) UpdateMemoryUsage(u *resource.MemoryUsage) {
	u.CPU = uint64(len(s.source))
}
