package online

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
)

type Player struct {
	Name    string    `json:"name"`
	Address string    `json:"address,omitempty"`
	Since   time.Time `json:"since"`
}

// Tracker keeps the set of players currently online, driven by bus events.
type Tracker struct {
	mu      sync.RWMutex
	players map[string]Player
	subs    []*bus.Subscription
}

func New() *Tracker {
	return &Tracker{players: make(map[string]Player)}
}

// Attach subscribes the tracker to b. The tracker runs at a high priority so
// that other handlers of the same event observe the updated set.
func (t *Tracker) Attach(b *bus.Bus) {
	opts := []bus.SubscribeOption{bus.WithPriority(100), bus.WithName("online")}
	t.subs = append(t.subs,
		b.Subscribe(event.KindPlayerJoined, t.handle, opts...),
		b.Subscribe(event.KindPlayerLeft, t.handle, opts...),
		b.Subscribe(event.KindServerStarting, t.handle, opts...),
		b.Subscribe(event.KindServerStopped, t.handle, opts...),
	)
}

func (t *Tracker) Detach(b *bus.Bus) {
	for _, s := range t.subs {
		b.Unsubscribe(s)
	}
	t.subs = nil
}

func (t *Tracker) handle(_ context.Context, e event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev := e.(type) {
	case event.PlayerJoined:
		t.players[key(ev.Name)] = Player{Name: ev.Name, Address: ev.Address, Since: ev.At}
	case event.PlayerLeft:
		delete(t.players, key(ev.Name))
	case event.ServerStarting, event.ServerStopped:
		clear(t.players)
	}
	return nil
}

// Players returns the online players sorted by name.
func (t *Tracker) Players() []Player {
	t.mu.RLock()
	out := make([]Player, 0, len(t.players))
	for _, p := range t.players {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name) < key(out[j].Name) })
	return out
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.players)
}

func (t *Tracker) IsOnline(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.players[key(name)]
	return ok
}

func key(name string) string { return strings.ToLower(name) }
