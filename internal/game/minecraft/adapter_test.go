package minecraft

import (
	"testing"
	"time"

	"github.com/reedfamily/reedlink/internal/classify"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/game"
)

func classifyRaw(t *testing.T, raw string) event.Event {
	t.Helper()
	a := &Adapter{}
	line, ok := a.SplitLine(raw)
	if !ok {
		t.Fatalf("SplitLine(%q) did not recognize the prefix", raw)
	}
	return classify.New(a.Matchers()).Classify(line)
}

func TestRegistered(t *testing.T) {
	if game.Get("minecraft") == nil {
		t.Fatal("minecraft adapter not registered")
	}
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		raw                    string
		thread, level, message string
	}{
		{"[12:00:01] [Server thread/INFO]: Done (3.2s)!", "Server thread", "INFO", "Done (3.2s)!"},
		{"[12:00:01] [Server thread/WARN] [minecraft/DedicatedServer]: careful", "Server thread", "WARN", "careful"},
		{"[12:00:01 ERROR]: boom", "", "ERROR", "boom"},
	}
	a := &Adapter{}
	for _, tt := range tests {
		line, ok := a.SplitLine(tt.raw)
		if !ok {
			t.Errorf("SplitLine(%q) not recognized", tt.raw)
			continue
		}
		if line.Thread != tt.thread || line.Level != tt.level || line.Message != tt.message {
			t.Errorf("SplitLine(%q) = %+v", tt.raw, line)
		}
	}

	line, ok := a.SplitLine("\tat net.minecraft.Foo.bar(Foo.java:12)")
	if ok || line.Message != "\tat net.minecraft.Foo.bar(Foo.java:12)" {
		t.Errorf("continuation line = %+v, %v", line, ok)
	}
}

func TestClassify(t *testing.T) {
	ev := classifyRaw(t, "[12:00:00] [Server thread/INFO]: Steve[/127.0.0.1:51234] logged in with entity id 42 at (0.5, 64.0, 0.5)")
	joined, ok := ev.(event.PlayerJoined)
	if !ok || joined.Name != "Steve" || joined.Address != "127.0.0.1:51234" || joined.EntityID != 42 {
		t.Errorf("join = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: Steve lost connection: Disconnected")
	if left, ok := ev.(event.PlayerLeft); !ok || left.Name != "Steve" || left.Reason != "Disconnected" {
		t.Errorf("leave = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: <Alex> was slain by a zombie")
	if chat, ok := ev.(event.PlayerChat); !ok || chat.Name != "Alex" || chat.Message != "was slain by a zombie" {
		t.Errorf("chat = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: Alex has made the advancement [Stone Age]")
	if adv, ok := ev.(event.PlayerAdvancement); !ok || adv.Advancement != "Stone Age" {
		t.Errorf("advancement = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: Alex was slain by Zombie")
	if died, ok := ev.(event.PlayerDied); !ok || died.Name != "Alex" || died.Cause != "was slain by Zombie" {
		t.Errorf("death = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: Done (3.250s)! For help, type \"help\"")
	if started, ok := ev.(event.ServerStarted); !ok || started.Startup != 3250*time.Millisecond {
		t.Errorf("started = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: Starting minecraft server version 1.21.1")
	if s, ok := ev.(event.ServerStarting); !ok || s.Version != "1.21.1" {
		t.Errorf("starting = %#v", ev)
	}

	ev = classifyRaw(t, "[12:00:00] [Server thread/INFO]: RCON running on 0.0.0.0:25575")
	if r, ok := ev.(event.RconReady); !ok || r.Addr != "0.0.0.0:25575" {
		t.Errorf("rcon = %#v", ev)
	}
}

func TestUnclaimedLineYieldsNoEvent(t *testing.T) {
	if ev := classifyRaw(t, "[12:00:00] [Server thread/WARN]: Can't keep up! Is the server overloaded?"); ev != nil {
		t.Errorf("got %#v, want nil", ev)
	}
}

func TestDeathRequiresInfoLevel(t *testing.T) {
	ev := classifyRaw(t, "[12:00:00] [Server thread/WARN]: Alex fell from a high place")
	if _, ok := ev.(event.PlayerDied); ok {
		t.Error("WARN line classified as a death")
	}
}
