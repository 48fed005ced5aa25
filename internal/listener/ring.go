package listener

import "github.com/reedfamily/reedlink/internal/event"

// ring is a fixed-capacity FIFO. Capacity 0 holds nothing.
type ring struct {
	items []event.ServerLog
	head  int
	n     int
}

func newRing(size int) *ring {
	return &ring{items: make([]event.ServerLog, size)}
}

func (r *ring) capacity() int { return len(r.items) }
func (r *ring) len() int      { return r.n }

// push stores e. When full it evicts the oldest entry if dropOld is set,
// otherwise it rejects e. It reports whether e was stored without loss.
func (r *ring) push(e event.ServerLog, dropOld bool) bool {
	c := len(r.items)
	if c == 0 {
		return false
	}
	if r.n < c {
		r.items[(r.head+r.n)%c] = e
		r.n++
		return true
	}
	if !dropOld {
		return false
	}
	r.items[r.head] = e
	r.head = (r.head + 1) % c
	return false
}

func (r *ring) snapshot() []event.ServerLog {
	out := make([]event.ServerLog, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}
