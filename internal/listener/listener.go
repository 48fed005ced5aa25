package listener

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
)

// MaxBufferSize bounds the history; the ring is allocated up front.
const MaxBufferSize = 100_000

type BufferConfig struct {
	Size    uint `yaml:"size" toml:"size" json:"size"`
	DropOld bool `yaml:"drop_old" toml:"drop_old" json:"drop_old"`
}

type Config struct {
	// Levels is a case-insensitive allow-list. Empty admits every level.
	Levels []string `yaml:"levels" toml:"levels" json:"levels"`
	// IgnorePatterns are regular expressions; a pattern that does not
	// compile is matched as a literal substring instead.
	IgnorePatterns []string     `yaml:"ignore_patterns" toml:"ignore_patterns" json:"ignore_patterns"`
	Buffer         BufferConfig `yaml:"buffer" toml:"buffer" json:"buffer"`
}

// ConfigError reports an ignore pattern that fell back to literal matching.
type ConfigError struct {
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ignore pattern %q: %v (matching literally)", e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Subscriber is the part of the bus the listener needs.
type Subscriber interface {
	Subscribe(k event.Kind, h bus.Handler, opts ...bus.SubscribeOption) *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
}

type Stats struct {
	Accepted uint64 `json:"accepted"`
	Filtered uint64 `json:"filtered"`
	Ignored  uint64 `json:"ignored"`
	Dropped  uint64 `json:"dropped"`
	Buffered int    `json:"buffered"`
}

type ignoreRule struct {
	re      *regexp.Regexp
	literal string
}

func (r ignoreRule) match(msg string) bool {
	if r.re != nil {
		return r.re.MatchString(msg)
	}
	return strings.Contains(msg, r.literal)
}

// Listener keeps a filtered, bounded history of ServerLog events and
// forwards accepted lines to live watchers.
type Listener struct {
	bus  Subscriber
	log  zerolog.Logger
	cfg  Config
	fold cases.Caser

	levels    map[string]struct{}
	ignore    []ignoreRule
	configErr []error

	mu       sync.Mutex
	sub      *bus.Subscription
	ring     *ring
	notify   []func(event.ServerLog)
	watchers map[uint64]func(event.ServerLog)
	nextW    uint64

	accepted atomic.Uint64
	filtered atomic.Uint64
	ignored  atomic.Uint64
	dropped  atomic.Uint64
}

type Option func(*Listener)

func WithLogger(l zerolog.Logger) Option {
	return func(ln *Listener) { ln.log = l }
}

// WithNotify registers a callback for every accepted line.
func WithNotify(f func(event.ServerLog)) Option {
	return func(ln *Listener) {
		if f != nil {
			ln.notify = append(ln.notify, f)
		}
	}
}

func New(b Subscriber, cfg Config, opts ...Option) *Listener {
	ln := &Listener{
		bus:      b,
		log:      zerolog.Nop(),
		cfg:      cfg,
		fold:     cases.Fold(),
		levels:   make(map[string]struct{}, len(cfg.Levels)),
		ring:     newRing(int(min(cfg.Buffer.Size, MaxBufferSize))),
		watchers: make(map[uint64]func(event.ServerLog)),
	}
	for _, opt := range opts {
		opt(ln)
	}
	ln.log = ln.log.With().Str("component", "listener").Logger()

	for _, lvl := range cfg.Levels {
		ln.levels[ln.fold.String(strings.TrimSpace(lvl))] = struct{}{}
	}
	for _, p := range cfg.IgnorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			cerr := &ConfigError{Pattern: p, Err: err}
			ln.configErr = append(ln.configErr, cerr)
			ln.log.Debug().Err(cerr).Msg("ignore pattern is not a valid regexp")
			ln.ignore = append(ln.ignore, ignoreRule{literal: p})
			continue
		}
		ln.ignore = append(ln.ignore, ignoreRule{re: re})
	}
	return ln
}

// ConfigErrors lists the ignore patterns that degraded to literal matching.
func (ln *Listener) ConfigErrors() []error {
	return append([]error(nil), ln.configErr...)
}

// Start subscribes to ServerLog events. Calling it twice is a no-op.
func (ln *Listener) Start() {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.sub != nil {
		return
	}
	ln.sub = ln.bus.Subscribe(event.KindServerLog, ln.handle, bus.WithName("log-listener"))
	ln.log.Debug().Uint("buffer", ln.cfg.Buffer.Size).Bool("drop_old", ln.cfg.Buffer.DropOld).Msg("started")
}

// Stop unsubscribes. The buffer is kept. Calling it twice is a no-op.
func (ln *Listener) Stop() {
	ln.mu.Lock()
	sub := ln.sub
	ln.sub = nil
	ln.mu.Unlock()
	if sub != nil {
		ln.bus.Unsubscribe(sub)
		ln.log.Debug().Msg("stopped")
	}
}

// Running reports whether the listener is subscribed.
func (ln *Listener) Running() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.sub != nil
}

// Watch registers a live callback and returns the function that removes it.
func (ln *Listener) Watch(f func(event.ServerLog)) (unwatch func()) {
	ln.mu.Lock()
	ln.nextW++
	id := ln.nextW
	ln.watchers[id] = f
	ln.mu.Unlock()
	return func() {
		ln.mu.Lock()
		delete(ln.watchers, id)
		ln.mu.Unlock()
	}
}

// Buffered returns a copy of the history, oldest first.
func (ln *Listener) Buffered() []event.ServerLog {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.ring.snapshot()
}

func (ln *Listener) Stats() Stats {
	ln.mu.Lock()
	n := ln.ring.len()
	ln.mu.Unlock()
	return Stats{
		Accepted: ln.accepted.Load(),
		Filtered: ln.filtered.Load(),
		Ignored:  ln.ignored.Load(),
		Dropped:  ln.dropped.Load(),
		Buffered: n,
	}
}

func (ln *Listener) handle(_ context.Context, e event.Event) error {
	entry, ok := e.(event.ServerLog)
	if !ok {
		return nil
	}

	ln.mu.Lock()
	if !ln.levelAllowed(entry.Level) {
		ln.mu.Unlock()
		ln.filtered.Add(1)
		return nil
	}
	ln.mu.Unlock()

	for _, rule := range ln.ignore {
		if rule.match(entry.Message) {
			ln.ignored.Add(1)
			return nil
		}
	}

	ln.mu.Lock()
	if !ln.ring.push(entry, ln.cfg.Buffer.DropOld) && ln.ring.capacity() > 0 {
		ln.dropped.Add(1)
	}
	callbacks := make([]func(event.ServerLog), 0, len(ln.notify)+len(ln.watchers))
	callbacks = append(callbacks, ln.notify...)
	for _, w := range ln.watchers {
		callbacks = append(callbacks, w)
	}
	ln.mu.Unlock()

	ln.accepted.Add(1)
	for _, f := range callbacks {
		f(entry)
	}
	return nil
}

// levelAllowed must be called with mu held; the caser is not safe for
// concurrent use.
func (ln *Listener) levelAllowed(level string) bool {
	if len(ln.levels) == 0 {
		return true
	}
	_, ok := ln.levels[ln.fold.String(strings.TrimSpace(level))]
	return ok
}
