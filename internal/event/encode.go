package event

import (
	"time"

	json "github.com/goccy/go-json"
)

// Envelope is the wire shape used by the API and plugin bridges.
type Envelope struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data Event     `json:"data"`
}

// Wrap builds the envelope for e.
func Wrap(e Event) Envelope {
	return Envelope{Kind: e.Kind().String(), At: e.When(), Data: e}
}

// Encode renders e as a JSON envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(Wrap(e))
}

// Fields flattens e into a generic map, e.g. for handing to a script runtime.
func Fields(e Event) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["kind"] = e.Kind().String()
	return m, nil
}
