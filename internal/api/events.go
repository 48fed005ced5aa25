package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
)

// Watchers see events after every core consumer.
const watchPriority = -1000

type EventHandler struct {
	bus *bus.Bus
	log zerolog.Logger
}

func NewEventHandler(b *bus.Bus, log zerolog.Logger) *EventHandler {
	return &EventHandler{bus: b, log: log}
}

// Kinds lists the event kinds a client may subscribe to.
func (h *EventHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	kinds := event.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	writeJSON(w, http.StatusOK, names)
}

// Live streams published events. ?kinds=a,b limits the stream; without it
// every kind is sent.
func (h *EventHandler) Live(w http.ResponseWriter, r *http.Request) {
	kinds, bad := parseKinds(r.URL.Query().Get("kinds"))
	if bad != "" {
		writeError(w, http.StatusBadRequest, "unknown event kind "+bad)
		return
	}
	stream(w, r, h.log, func(send func([]byte)) func() {
		return h.subscribe(kinds, send)
	}, nil)
}

func (h *EventHandler) subscribe(kinds []event.Kind, send func([]byte)) func() {
	subs := make([]*bus.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, h.bus.Subscribe(k, func(_ context.Context, e event.Event) error {
			data, err := event.Encode(e)
			if err != nil {
				return err
			}
			send(data)
			return nil
		}, bus.WithPriority(watchPriority), bus.WithName("websocket")))
	}
	return func() {
		for _, s := range subs {
			h.bus.Unsubscribe(s)
		}
	}
}

func parseKinds(s string) (kinds []event.Kind, bad string) {
	if strings.TrimSpace(s) == "" {
		return event.Kinds(), ""
	}
	seen := map[event.Kind]bool{}
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k, ok := event.ParseKind(name)
		if !ok {
			return nil, name
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, ""
}
