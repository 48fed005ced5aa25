package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/reedfamily/reedlink/internal/event"
)

var ErrInvalid = errors.New("invalid notification")

// Publisher is the part of the bus the bridge needs.
type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

// Bridge turns management-protocol notifications into typed events and
// publishes them directly, skipping log classification.
type Bridge struct {
	pub Publisher
	now func() time.Time
}

func NewBridge(pub Publisher) *Bridge {
	return &Bridge{pub: pub, now: time.Now}
}

// Handle decodes one JSON-RPC notification and publishes the resulting
// events. A batch (JSON array) publishes one event per element.
func (b *Bridge) Handle(ctx context.Context, body []byte) ([]event.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}
	doc := gjson.ParseBytes(body)

	var docs []gjson.Result
	if doc.IsArray() {
		docs = doc.Array()
	} else {
		docs = []gjson.Result{doc}
	}

	out := make([]event.Event, 0, len(docs))
	for _, d := range docs {
		evs, err := b.Map(d)
		if err != nil {
			return out, err
		}
		for _, e := range evs {
			b.pub.Publish(ctx, e)
		}
		out = append(out, evs...)
	}
	return out, nil
}

// Map converts one notification document. Player notifications may carry
// several players and produce one event each.
func (b *Bridge) Map(doc gjson.Result) ([]event.Event, error) {
	method := doc.Get("method").String()
	if method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalid)
	}
	params := doc.Get("params")
	at := b.now()

	// "minecraft:notification/players/joined" -> "players/joined"
	topic := method
	if i := strings.Index(topic, "notification/"); i >= 0 {
		topic = topic[i+len("notification/"):]
	}

	switch topic {
	case "players/joined":
		var evs []event.Event
		for _, p := range players(params) {
			evs = append(evs, event.PlayerJoined{At: at, Name: p.Get("name").String()})
		}
		return evs, nil
	case "players/left":
		var evs []event.Event
		for _, p := range players(params) {
			evs = append(evs, event.PlayerLeft{At: at, Name: p.Get("name").String(), Reason: p.Get("reason").String()})
		}
		return evs, nil
	case "server/started":
		return []event.Event{event.ServerStarted{At: at}}, nil
	case "server/stopping":
		return []event.Event{event.ServerStopping{At: at}}, nil
	case "server/saved":
		return []event.Event{event.ServerSaved{At: at}}, nil
	}

	n := event.Notification{At: at, Method: method}
	if params.Exists() {
		n.Params = json.RawMessage(params.Raw)
	}
	return []event.Event{n}, nil
}

// players accepts params as a player object, an array of players, or a
// positional array wrapping either.
func players(params gjson.Result) []gjson.Result {
	var out []gjson.Result
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		switch {
		case r.IsArray():
			for _, el := range r.Array() {
				walk(el)
			}
		case r.IsObject() && r.Get("name").Exists():
			out = append(out, r)
		case r.IsObject() && r.Get("player").Exists():
			walk(r.Get("player"))
		case r.IsObject() && r.Get("players").Exists():
			walk(r.Get("players"))
		}
	}
	walk(params)
	return out
}
