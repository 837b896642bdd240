package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/resource"
)

// APIVersion is exposed to scripts as API_VERSION.
const APIVersion = 1

// Engine wraps a single gopher-lua VM shared by every script component of a
// world. Single-goroutine access only: script updates run in a sequential
// phase.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
	cur *ScriptComponent // component whose script is running
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(APIVersion))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))
	vm.SetGlobal("get_position", vm.NewFunction(e.luaGetPosition))
	vm.SetGlobal("set_position", vm.NewFunction(e.luaSetPosition))
	vm.SetGlobal("delete_self", vm.NewFunction(e.luaDeleteSelf))
	return e
}

// LoadLibrary runs every .lua file in dir in the shared global scope, so
// the functions they define are visible to all scripts. A missing directory
// is not an error.
func (e *Engine) LoadLibrary(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua library", zap.String("file", path))
	}
	return nil
}

// instantiate runs proto in a fresh environment that falls back to the
// shared globals, and returns that environment.
func (e *Engine) instantiate(proto *lua.FunctionProto) (*lua.LTable, error) {
	env := e.vm.NewTable()
	mt := e.vm.NewTable()
	mt.RawSetString("__index", e.vm.G.Global)
	e.vm.SetMetatable(env, mt)

	fn := e.vm.NewFunctionFromProto(proto)
	fn.Env = env
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}); err != nil {
		return nil, err
	}
	return env, nil
}

// run acquires c's script and calls its update(dt). The chunk is re-run
// whenever the acquired content changed since the last call, which covers
// the switch from a fallback to the final script as well as reloads.
func (e *Engine) run(c *ScriptComponent, dt time.Duration) {
	if !c.script.IsValid() {
		return
	}
	lock, err := resource.Acquire(context.Background(), c.script, resource.AcquireAllowLoadingFallback)
	if err != nil {
		e.log.Error("acquire script", zap.Stringer("script", c.script.Key()), zap.Error(err))
		return
	}
	defer lock.Release()
	if lock.Result() == resource.AcquireNone {
		return
	}
	proto := lock.Get().Proto()
	if proto == nil {
		return
	}

	e.cur = c
	defer func() { e.cur = nil }()

	if proto != c.proto {
		c.proto = proto
		env, err := e.instantiate(proto)
		if err != nil {
			c.env = nil
			e.log.Error("lua chunk error",
				zap.Stringer("script", c.script.Key()), zap.Error(err))
			return
		}
		c.env = env
	}
	if c.env == nil {
		return
	}

	upd, ok := c.env.RawGetString("update").(*lua.LFunction)
	if !ok {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      upd,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(dt.Seconds())); err != nil {
		e.log.Error("lua update error",
			zap.Stringer("script", c.script.Key()), zap.Error(err))
	}
}

func (e *Engine) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	fields := []zap.Field{zap.String("msg", msg)}
	if e.cur != nil {
		fields = append(fields, zap.Stringer("script", e.cur.script.Key()))
	}
	e.log.Info("script", fields...)
	return 0
}

func (e *Engine) luaGetPosition(L *lua.LState) int {
	if e.cur == nil {
		L.RaiseError("get_position called outside a script update")
		return 0
	}
	obj, ok := e.cur.OwnerObject()
	if !ok {
		return 0
	}
	p := obj.LocalPosition
	L.Push(lua.LNumber(p[0]))
	L.Push(lua.LNumber(p[1]))
	L.Push(lua.LNumber(p[2]))
	return 3
}

func (e *Engine) luaSetPosition(L *lua.LState) int {
	if e.cur == nil {
		L.RaiseError("set_position called outside a script update")
		return 0
	}
	x, y, z := L.CheckNumber(1), L.CheckNumber(2), L.CheckNumber(3)
	if obj, ok := e.cur.OwnerObject(); ok {
		obj.LocalPosition[0] = float32(x)
		obj.LocalPosition[1] = float32(y)
		obj.LocalPosition[2] = float32(z)
	}
	return 0
}

func (e *Engine) luaDeleteSelf(L *lua.LState) int {
	if e.cur == nil {
		L.RaiseError("delete_self called outside a script update")
		return 0
	}
	e.cur.World().DeleteObjectDelayed(e.cur.Owner())
	return 0
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	if e.vm != nil {
		e.vm.Close()
	}
}
