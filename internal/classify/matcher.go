package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reedfamily/reedlink/internal/event"
)

// Line is one console line with the timestamp/thread prefix already split off.
type Line struct {
	Message string `json:"message"`
	Level   string `json:"level"`
	Thread  string `json:"thread,omitempty"`
}

// Matcher recognizes one line shape. TryMatch returns (nil, nil) when the
// line is not its concern.
type Matcher interface {
	Name() string
	Priority() int
	TryMatch(line Line) (event.Event, error)
}

// Groups exposes the submatches of a successful pattern match.
type Groups struct {
	names   []string
	matches []string
}

// Get returns the named group, or "" if the group is absent or did not participate.
func (g Groups) Get(name string) string {
	for i, n := range g.names {
		if n == name && i < len(g.matches) {
			return g.matches[i]
		}
	}
	return ""
}

// Int parses the named group, falling back to def.
func (g Groups) Int(name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(g.Get(name)))
	if err != nil {
		return def
	}
	return v
}

// Float parses the named group, falling back to def.
func (g Groups) Float(name string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(g.Get(name)), 64)
	if err != nil {
		return def
	}
	return v
}

// Index returns the i-th submatch (0 is the whole match).
func (g Groups) Index(i int) string {
	if i < 0 || i >= len(g.matches) {
		return ""
	}
	return g.matches[i]
}

// ExtractFunc builds the event for a line the pattern accepted. Returning a
// nil event declines the line.
type ExtractFunc func(line Line, g Groups) (event.Event, error)

// RegexMatcher applies a compiled pattern to the message and only then
// hands the captured groups to its ExtractFunc.
type RegexMatcher struct {
	name     string
	priority int
	re       *regexp.Regexp
	levels   []string
	extract  ExtractFunc
}

type MatcherOption func(*RegexMatcher)

// WithLevels restricts the matcher to lines at one of the given levels.
func WithLevels(levels ...string) MatcherOption {
	return func(m *RegexMatcher) { m.levels = levels }
}

func NewRegexMatcher(name string, priority int, pattern string, extract ExtractFunc, opts ...MatcherOption) (*RegexMatcher, error) {
	if extract == nil {
		return nil, fmt.Errorf("matcher %s: nil extract func", name)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("matcher %s: %w", name, err)
	}
	m := &RegexMatcher{name: name, priority: priority, re: re, extract: extract}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MustRegexMatcher is NewRegexMatcher for package-level matcher tables.
func MustRegexMatcher(name string, priority int, pattern string, extract ExtractFunc, opts ...MatcherOption) *RegexMatcher {
	m, err := NewRegexMatcher(name, priority, pattern, extract, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *RegexMatcher) Name() string  { return m.name }
func (m *RegexMatcher) Priority() int { return m.priority }

func (m *RegexMatcher) TryMatch(line Line) (event.Event, error) {
	if len(m.levels) > 0 && !levelIn(line.Level, m.levels) {
		return nil, nil
	}
	sub := m.re.FindStringSubmatch(line.Message)
	if sub == nil {
		return nil, nil
	}
	return m.extract(line, Groups{names: m.re.SubexpNames(), matches: sub})
}

func levelIn(level string, levels []string) bool {
	for _, l := range levels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}
