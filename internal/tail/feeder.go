package tail

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/reedfamily/reedlink/internal/classify"
	"github.com/reedfamily/reedlink/internal/event"
)

// Splitter strips the console prefix from a raw line.
type Splitter interface {
	SplitLine(raw string) (classify.Line, bool)
}

// Processor classifies a line and publishes the result.
type Processor interface {
	Process(ctx context.Context, line classify.Line) event.Event
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// Feeder turns raw console output into classified lines. Lines without a
// recognizable prefix (stack traces, wrapped output) inherit the level and
// thread of the previous line.
type Feeder struct {
	split Splitter
	proc  Processor

	mu     sync.Mutex
	level  string
	thread string
	lines  uint64
}

func NewFeeder(split Splitter, proc Processor) *Feeder {
	return &Feeder{split: split, proc: proc}
}

// Feed handles one raw line. Blank lines are skipped.
func (f *Feeder) Feed(ctx context.Context, raw string) event.Event {
	raw = strings.TrimRight(ansiRe.ReplaceAllString(raw, ""), "\r\n")
	// A carriage return redraws the line; keep what was drawn last.
	if i := strings.LastIndexByte(raw, '\r'); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.TrimPrefix(raw, ">")
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	line, ok := f.split.SplitLine(raw)
	f.mu.Lock()
	if ok {
		f.level, f.thread = line.Level, line.Thread
	} else {
		line.Level, line.Thread = f.level, f.thread
	}
	f.lines++
	f.mu.Unlock()

	return f.proc.Process(ctx, line)
}

// Lines counts the lines fed so far.
func (f *Feeder) Lines() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines
}
