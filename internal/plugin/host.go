package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// CommandSender delivers console commands to the game server.
type CommandSender interface {
	SendCommand(ctx context.Context, command string) error
}

// Host loads Lua plugins and connects them to the bus and scheduler.
type Host struct {
	bus     *bus.Bus
	sched   *scheduler.Scheduler
	cmd     CommandSender
	log     zerolog.Logger
	timeout time.Duration
	dir     string

	mu      sync.Mutex
	plugins map[string]*Plugin
}

type Option func(*Host)

func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) { h.log = l }
}

func WithCommandSender(c CommandSender) Option {
	return func(h *Host) { h.cmd = c }
}

// WithDir sets the directory Reload reads.
func WithDir(dir string) Option {
	return func(h *Host) { h.dir = dir }
}

// WithCallTimeout bounds each entry into a plugin's VM.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}

func NewHost(b *bus.Bus, s *scheduler.Scheduler, opts ...Option) *Host {
	h := &Host{
		bus:     b,
		sched:   s,
		log:     zerolog.Nop(),
		timeout: DefaultCallTimeout,
		plugins: make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With().Str("component", "plugin").Logger()
	return h
}

// LoadDir loads every *.lua file in dir. A plugin that fails to load is
// logged and skipped; the others still load.
func (h *Host) LoadDir(dir string) (loaded int, err error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return 0, fmt.Errorf("glob plugins: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		if _, err := h.LoadFile(f); err != nil {
			h.log.Error().Err(err).Str("file", f).Msg("plugin failed to load")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Reload unloads everything and loads the configured directory again.
func (h *Host) Reload() (int, error) {
	h.UnloadAll()
	if h.dir == "" {
		return 0, nil
	}
	return h.LoadDir(h.dir)
}

// LoadFile loads the plugin at path, replacing a loaded plugin of the same name.
func (h *Host) LoadFile(path string) (*Plugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return h.Load(name, string(src))
}

// Load runs src as plugin name.
func (h *Host) Load(name, src string) (*Plugin, error) {
	h.Unload(name)

	p := newPlugin(h, name)
	if err := p.state.doString(src); err != nil {
		p.shutdown()
		return nil, &Error{Plugin: name, Err: err}
	}
	p.flush()

	h.mu.Lock()
	h.plugins[name] = p
	h.mu.Unlock()
	h.log.Info().Str("plugin", name).Int("handlers", p.handlerCount()).Msg("loaded")
	return p, nil
}

// Unload removes a plugin's handlers and tasks and closes its VM.
func (h *Host) Unload(name string) bool {
	h.mu.Lock()
	p, ok := h.plugins[name]
	delete(h.plugins, name)
	h.mu.Unlock()
	if !ok {
		return false
	}
	p.shutdown()
	h.log.Info().Str("plugin", name).Msg("unloaded")
	return true
}

func (h *Host) UnloadAll() {
	for _, info := range h.Plugins() {
		h.Unload(info.Name)
	}
}

func (h *Host) Get(name string) *Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plugins[name]
}

type Info struct {
	Name     string `json:"name"`
	Handlers int    `json:"handlers"`
	Tasks    int    `json:"tasks"`
}

func (h *Host) Plugins() []Info {
	h.mu.Lock()
	out := make([]Info, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, Info{Name: p.name, Handlers: p.handlerCount(), Tasks: p.taskCount()})
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Error is a failure inside plugin code.
type Error struct {
	Plugin string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
