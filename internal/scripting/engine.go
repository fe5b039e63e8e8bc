package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Calls are serialized because world
// sessions run on their own goroutines.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir,
// then in scriptsDir/world. Missing directories are skipped.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log_info", vm.NewFunction(e.luaLogInfo))

	for _, dir := range []string{scriptsDir, filepath.Join(scriptsDir, "world")} {
		if err := e.loadDir(dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
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
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Greeting calls the Lua welcome(world, user) function. A missing function,
// a script error or a non-string result falls back to world.DefaultGreeting.
func (e *Engine) Greeting(w realm.WorldDescriptor, user string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("welcome")
	if fn.Type() != lua.LTFunction {
		return world.DefaultGreeting(w)
	}

	t := e.vm.NewTable()
	t.RawSetString("id", lua.LNumber(w.ID))
	t.RawSetString("name", lua.LString(w.Name))
	t.RawSetString("ip", lua.LString(w.IP))
	t.RawSetString("port", lua.LNumber(w.Port))
	t.RawSetString("state", lua.LString(w.State.String()))
	t.RawSetString("max_users", lua.LNumber(w.MaxUsers))
	t.RawSetString("current_users", lua.LNumber(w.CurrentUsers))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t, lua.LString(user)); err != nil {
		e.log.Error("lua welcome error", zap.Error(err))
		return world.DefaultGreeting(w)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	s, ok := result.(lua.LString)
	if !ok {
		e.log.Warn("lua welcome returned a non-string", zap.String("type", result.Type().String()))
		return world.DefaultGreeting(w)
	}
	return string(s)
}

func (e *Engine) luaLogInfo(L *lua.LState) int {
	e.log.Info(L.CheckString(1), zap.String("source", "lua"))
	return 0
}

// Close releases the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
