package event

import (
	"strings"
	"testing"
	"time"
)

func TestKindNamesRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		name := k.String()
		if name == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
		got, ok := ParseKind(name)
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", name, got, ok, k)
		}
	}
	if _, ok := ParseKind("nope"); ok {
		t.Error("ParseKind accepted an unknown name")
	}
	if KindUnknown.String() != "unknown" {
		t.Errorf("KindUnknown.String() = %q", KindUnknown.String())
	}
}

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(PlayerJoined{At: at, Name: "Steve", Address: "10.0.0.2:51234"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"kind":"player_joined"`, `"name":"Steve"`, `"address":"10.0.0.2:51234"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Encode output %s missing %s", out, want)
		}
	}
}

func TestFields(t *testing.T) {
	m, err := Fields(PlayerChat{At: time.Now(), Name: "Alex", Message: "hi"})
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if m["kind"] != "player_chat" || m["name"] != "Alex" || m["message"] != "hi" {
		t.Errorf("Fields = %v", m)
	}
}
