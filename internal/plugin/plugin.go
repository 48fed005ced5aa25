package plugin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// Plugin is one loaded script and everything it registered.
type Plugin struct {
	host  *Host
	name  string
	state *state
	log   zerolog.Logger

	mu      sync.Mutex
	subs    map[string]*bus.Subscription
	tasks   map[string]*scheduler.Task
	pending []event.Event
}

func newPlugin(h *Host, name string) *Plugin {
	p := &Plugin{
		host:  h,
		name:  name,
		state: newState(h.timeout),
		log:   h.log.With().Str("plugin", name).Logger(),
		subs:  make(map[string]*bus.Subscription),
		tasks: make(map[string]*scheduler.Task),
	}
	p.register()
	return p
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) register() {
	L := p.state.L
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":      p.luaOn,
		"off":     p.luaOff,
		"emit":    p.luaEmit,
		"after":   p.luaAfter,
		"every":   p.luaEvery,
		"cancel":  p.luaCancel,
		"command": p.luaCommand,
		"log":     p.luaLog,
	})
	mod.RawSetString("plugin", lua.LString(p.name))
	L.SetGlobal("reed", mod)
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		p.log.Info().Msg(strings.Join(parts, "\t"))
		return 0
	}))
}

// invoke calls fn and then publishes whatever it emitted. Emits are queued
// because publishing inside the VM lock could re-enter this plugin.
func (p *Plugin) invoke(fn *lua.LFunction, args ...lua.LValue) error {
	err := p.state.call(fn, args...)
	p.flush()
	if err != nil {
		return &Error{Plugin: p.name, Err: err}
	}
	return nil
}

func (p *Plugin) flush() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, e := range pending {
		p.host.bus.Publish(context.Background(), e)
	}
}

// reed.on(kind, fn [, priority]) -> id. kind is an event name such as
// "player_joined", or "custom:<name>" to receive one custom event.
func (p *Plugin) luaOn(L *lua.LState) int {
	kindName := L.CheckString(1)
	fn := L.CheckFunction(2)
	priority := L.OptInt(3, 0)

	opts := []bus.SubscribeOption{bus.WithPriority(priority), bus.WithName("plugin:" + p.name)}
	kind, ok := event.ParseKind(kindName)
	if custom, isCustom := strings.CutPrefix(kindName, "custom:"); isCustom {
		kind, ok = event.KindCustom, true
		opts = append(opts, bus.WithFilter(func(e event.Event) bool {
			c, _ := e.(event.Custom)
			return c.Name == custom
		}))
	}
	if !ok {
		L.ArgError(1, "unknown event kind "+kindName)
		return 0
	}

	sub := p.host.bus.Subscribe(kind, func(_ context.Context, e event.Event) error {
		fields, err := event.Fields(e)
		if err != nil {
			return err
		}
		var arg lua.LValue
		if err := p.state.do(func(L *lua.LState) error {
			arg = toLua(L, fields)
			return nil
		}); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		return p.invoke(fn, arg)
	}, opts...)

	p.mu.Lock()
	p.subs[sub.ID()] = sub
	p.mu.Unlock()
	L.Push(lua.LString(sub.ID()))
	return 1
}

// reed.off(id) -> bool
func (p *Plugin) luaOff(L *lua.LState) int {
	id := L.CheckString(1)
	p.mu.Lock()
	sub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if ok {
		p.host.bus.Unsubscribe(sub)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// reed.emit(name [, payload])
func (p *Plugin) luaEmit(L *lua.LState) int {
	name := L.CheckString(1)
	var payload any
	if L.GetTop() >= 2 {
		payload = toGo(L.Get(2))
	}
	p.mu.Lock()
	p.pending = append(p.pending, event.Custom{At: time.Now(), Name: name, Payload: payload})
	p.mu.Unlock()
	return 0
}

func (p *Plugin) luaAfter(L *lua.LState) int {
	return p.schedule(L, false)
}

func (p *Plugin) luaEvery(L *lua.LState) int {
	return p.schedule(L, true)
}

// reed.after(seconds, fn) / reed.every(seconds, fn) -> id
func (p *Plugin) schedule(L *lua.LState, periodic bool) int {
	secs := float64(L.CheckNumber(1))
	fn := L.CheckFunction(2)
	if secs < 0 || (periodic && secs == 0) {
		L.ArgError(1, "interval must be positive")
		return 0
	}
	d := time.Duration(secs * float64(time.Second))

	var task *scheduler.Task
	action := func(context.Context) error {
		err := p.invoke(fn)
		if !periodic {
			p.mu.Lock()
			delete(p.tasks, task.ID())
			p.mu.Unlock()
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}

	// the action reads task under mu, so it cannot see it unassigned
	p.mu.Lock()
	if periodic {
		task = p.host.sched.CallPeriodic("plugin:"+p.name, d, action)
	} else {
		task = p.host.sched.CallLater("plugin:"+p.name, d, action)
	}
	p.tasks[task.ID()] = task
	p.mu.Unlock()

	L.Push(lua.LString(task.ID()))
	return 1
}

// reed.cancel(id) -> bool
func (p *Plugin) luaCancel(L *lua.LState) int {
	id := L.CheckString(1)
	p.mu.Lock()
	task, ok := p.tasks[id]
	delete(p.tasks, id)
	p.mu.Unlock()
	L.Push(lua.LBool(ok && task.Cancel()))
	return 1
}

// reed.command(cmd) -> ok, err
func (p *Plugin) luaCommand(L *lua.LState) int {
	cmd := L.CheckString(1)
	if p.host.cmd == nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString("no command channel"))
		return 2
	}
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.host.cmd.SendCommand(ctx, cmd); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// reed.log(level, msg)
func (p *Plugin) luaLog(L *lua.LState) int {
	level, err := zerolog.ParseLevel(strings.ToLower(L.CheckString(1)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	p.log.WithLevel(level).Msg(L.CheckString(2))
	return 0
}

func (p *Plugin) handlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Plugin) taskCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Plugin) shutdown() {
	p.mu.Lock()
	subs, tasks := p.subs, p.tasks
	p.subs = make(map[string]*bus.Subscription)
	p.tasks = make(map[string]*scheduler.Task)
	p.pending = nil
	p.mu.Unlock()

	for _, s := range subs {
		p.host.bus.Unsubscribe(s)
	}
	for _, t := range tasks {
		t.Cancel()
	}
	p.state.close()
}
