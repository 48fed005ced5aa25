package classify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/event"
)

// Publisher is the part of the bus the engine needs.
type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

// MatcherError records a matcher whose extraction failed for one line.
type MatcherError struct {
	Matcher string
	Line    Line
	Err     error
}

func (e *MatcherError) Error() string {
	return fmt.Sprintf("matcher %s: %v", e.Matcher, e.Err)
}

func (e *MatcherError) Unwrap() error {
	return e.Err
}

// Sort returns a copy of matchers ordered by descending priority. Matchers
// with equal priority keep their input order.
func Sort(matchers []Matcher) []Matcher {
	sorted := make([]Matcher, 0, len(matchers))
	for _, m := range matchers {
		if m != nil {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return sorted
}

// Engine turns raw lines into events with a fixed, pre-sorted matcher chain.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	matchers []Matcher
	pub      Publisher
	log      zerolog.Logger
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(matchers []Matcher, opts ...Option) *Engine {
	e := &Engine{
		matchers: Sort(matchers),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "classify").Logger()
	return e
}

// Matchers returns the chain in evaluation order.
func (e *Engine) Matchers() []Matcher {
	out := make([]Matcher, len(e.matchers))
	copy(out, e.matchers)
	return out
}

// Classify returns the event of the highest-priority matcher that accepts
// line, or nil. A failing matcher counts as no match.
func (e *Engine) Classify(line Line) event.Event {
	for _, m := range e.matchers {
		ev, err := e.try(m, line)
		if err != nil {
			e.log.Warn().Err(err).
				Str("matcher", m.Name()).
				Str("line", line.Message).
				Msg("extraction failed, trying next matcher")
			continue
		}
		if ev != nil {
			return ev
		}
	}
	return nil
}

// Process publishes the raw ServerLog for line, then the classified event
// if a matcher claims it. It returns the classified event or nil.
func (e *Engine) Process(ctx context.Context, line Line) event.Event {
	ev := e.Classify(line)
	if e.pub != nil {
		e.pub.Publish(ctx, RawLog(line))
		if ev != nil {
			e.pub.Publish(ctx, ev)
		}
	}
	return ev
}

func (e *Engine) try(m Matcher, line Line) (ev event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev = nil
			err = &MatcherError{
				Matcher: m.Name(),
				Line:    line,
				Err:     fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	ev, err = m.TryMatch(line)
	if err != nil {
		return nil, &MatcherError{Matcher: m.Name(), Line: line, Err: err}
	}
	return ev, nil
}
