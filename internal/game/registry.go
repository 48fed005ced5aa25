package game

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu       sync.RWMutex
	adapters = map[string]Adapter{}
)

func Register(adapter Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters[adapter.Game()] = adapter
}

func Get(game string) Adapter {
	mu.RLock()
	defer mu.RUnlock()
	return adapters[game]
}

// Lookup is Get with an error naming the known games.
func Lookup(game string) (Adapter, error) {
	if a := Get(game); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("unknown game %q (known: %v)", game, Names())
}

// Names returns the registered game identifiers, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(adapters))
	for k := range adapters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
