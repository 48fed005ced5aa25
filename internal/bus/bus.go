package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/event"
)

// Handler processes one event. A returned error is logged and counted;
// it never stops dispatch to the remaining handlers.
type Handler func(ctx context.Context, e event.Event) error

// AsyncHandler starts work and reports its outcome on the returned channel.
// Publish waits for the result before moving to the next handler.
type AsyncHandler func(ctx context.Context, e event.Event) <-chan error

// Subscription is the token returned by Subscribe. Keep it to unsubscribe.
type Subscription struct {
	id       string
	kind     event.Kind
	priority int
	name     string
}

func (s *Subscription) ID() string       { return s.id }
func (s *Subscription) Kind() event.Kind { return s.kind }
func (s *Subscription) Priority() int    { return s.priority }
func (s *Subscription) Name() string     { return s.name }

type registration struct {
	sub     *Subscription
	seq     uint64
	handler Handler
	filter  func(event.Event) bool
}

// Stats is a point-in-time copy of the bus counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	HandlerErrors uint64 `json:"handler_errors"`
	HandlerPanics uint64 `json:"handler_panics"`
	Subscriptions int    `json:"subscriptions"`
}

// Bus is an in-process typed pub/sub dispatcher.
type Bus struct {
	log zerolog.Logger

	mu    sync.RWMutex
	regs  map[event.Kind][]*registration
	byID  map[string]*registration
	seq   uint64
	count int

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

type Option func(*Bus)

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

func New(opts ...Option) *Bus {
	b := &Bus{
		log:  zerolog.Nop(),
		regs: make(map[event.Kind][]*registration),
		byID: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("component", "bus").Logger()
	return b
}

type subConfig struct {
	priority int
	name     string
	filter   func(event.Event) bool
}

// SubscribeOption configures a single registration.
type SubscribeOption func(*subConfig)

// WithPriority sets the dispatch priority. Higher values run first.
func WithPriority(p int) SubscribeOption {
	return func(c *subConfig) { c.priority = p }
}

// WithName labels the registration in logs.
func WithName(name string) SubscribeOption {
	return func(c *subConfig) { c.name = name }
}

// WithFilter skips events for which f returns false.
func WithFilter(f func(event.Event) bool) SubscribeOption {
	return func(c *subConfig) { c.filter = f }
}

// Subscribe registers h for events of kind k.
func (b *Bus) Subscribe(k event.Kind, h Handler, opts ...SubscribeOption) *Subscription {
	if h == nil {
		return nil
	}
	var cfg subConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		id:       uuid.New().String(),
		kind:     k,
		priority: cfg.priority,
		name:     cfg.name,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	reg := &registration{sub: sub, seq: b.seq, handler: h, filter: cfg.filter}

	// Copy-on-write: a dispatch holding the old slice keeps its view.
	regs := make([]*registration, 0, len(b.regs[k])+1)
	regs = append(regs, b.regs[k]...)
	regs = append(regs, reg)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].sub.priority != regs[j].sub.priority {
			return regs[i].sub.priority > regs[j].sub.priority
		}
		return regs[i].seq < regs[j].seq
	})
	b.regs[k] = regs
	b.byID[sub.id] = reg
	b.count++

	return sub
}

// SubscribeAsync registers an awaitable handler. It shares ordering and
// failure isolation with Subscribe.
func (b *Bus) SubscribeAsync(k event.Kind, h AsyncHandler, opts ...SubscribeOption) *Subscription {
	if h == nil {
		return nil
	}
	return b.Subscribe(k, func(ctx context.Context, e event.Event) error {
		done := h(ctx, e)
		if done == nil {
			return nil
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}, opts...)
}

// Unsubscribe removes sub. Unknown or already removed tokens are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.byID[sub.id]
	if !ok {
		return
	}
	delete(b.byID, sub.id)
	b.count--

	old := b.regs[sub.kind]
	regs := make([]*registration, 0, len(old))
	for _, r := range old {
		if r != reg {
			regs = append(regs, r)
		}
	}
	if len(regs) == 0 {
		delete(b.regs, sub.kind)
		return
	}
	b.regs[sub.kind] = regs
}

// ClearAllSubscriptions drops every registration at once.
func (b *Bus) ClearAllSubscriptions() {
	b.mu.Lock()
	b.regs = make(map[event.Kind][]*registration)
	b.byID = make(map[string]*registration)
	b.count = 0
	b.mu.Unlock()
}

// Publish delivers e to the handlers registered for its kind at call time,
// one after another, highest priority first. Handler failures are logged
// and never returned.
func (b *Bus) Publish(ctx context.Context, e event.Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	regs := b.regs[e.Kind()]
	b.mu.RUnlock()

	b.published.Add(1)
	if len(regs) == 0 {
		b.log.Trace().Stringer("kind", e.Kind()).Msg("no subscribers")
		return
	}

	for _, reg := range regs {
		if reg.filter != nil && !reg.filter(e) {
			continue
		}
		if err := b.invoke(ctx, reg, e); err != nil {
			b.failed.Add(1)
			b.log.Error().Err(err).
				Stringer("kind", e.Kind()).
				Str("subscription", reg.sub.id).
				Str("handler", reg.sub.name).
				Msg("handler failed")
			continue
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) invoke(ctx context.Context, reg *registration, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			err = &HandlerError{
				SubscriptionID: reg.sub.id,
				Kind:           e.Kind(),
				Err:            fmt.Errorf("panic: %v", r),
				Stack:          string(debug.Stack()),
			}
		}
	}()

	if herr := reg.handler(ctx, e); herr != nil {
		return &HandlerError{SubscriptionID: reg.sub.id, Kind: e.Kind(), Err: herr}
	}
	return nil
}

// Subscribers returns how many handlers are registered for k.
func (b *Bus) Subscribers(k event.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.regs[k])
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	count := b.count
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.failed.Load(),
		HandlerPanics: b.panicked.Load(),
		Subscriptions: count,
	}
}
