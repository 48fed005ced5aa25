package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var ErrClosed = errors.New("plugin closed")

const DefaultCallTimeout = 2 * time.Second

// state is a sandboxed Lua VM. gopher-lua is single-threaded, so every entry
// into the VM goes through mu.
type state struct {
	L       *lua.LState
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newState(timeout time.Duration) *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// no io, os, debug or package; drop the loaders base still provides
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &state{L: L, timeout: timeout}
}

// do runs fn with the VM locked, a deadline installed and panics recovered.
func (s *state) do(fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.L)
}

func (s *state) doString(src string) error {
	return s.do(func(L *lua.LState) error { return L.DoString(src) })
}

// call invokes fn with args in protected mode and discards its results.
func (s *state) call(fn *lua.LFunction, args ...lua.LValue) error {
	return s.do(func(L *lua.LState) error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
	})
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}
