package leaderboard

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/db"
	"github.com/reedfamily/reedlink/internal/event"
)

func setup(t *testing.T) (*Board, *bus.Bus) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	board := New(conn, zerolog.Nop())
	board.Attach(b)
	// handler errors are swallowed by the bus; surface them here
	t.Cleanup(func() {
		if st := b.Stats(); st.HandlerErrors != 0 {
			t.Errorf("leaderboard handlers failed %d times", st.HandlerErrors)
		}
	})
	return board, b
}

func TestSessionsAccumulatePlaytime(t *testing.T) {
	board, b := setup(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	b.Publish(ctx, event.PlayerJoined{At: t0, Name: "Steve"})
	b.Publish(ctx, event.PlayerLeft{At: t0.Add(30 * time.Minute), Name: "steve", Reason: "Disconnected"})
	b.Publish(ctx, event.PlayerJoined{At: t0.Add(time.Hour), Name: "Steve"})
	b.Publish(ctx, event.ServerStopped{At: t0.Add(time.Hour + 15*time.Minute)})

	s, err := board.Player(ctx, "STEVE")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if s.Joins != 2 || s.Playtime != 45*time.Minute {
		t.Errorf("stats = %+v", s)
	}
	if !s.FirstSeen.Equal(t0) || !s.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Errorf("seen = %s .. %s", s.FirstSeen, s.LastSeen)
	}
}

func TestRejoinWithoutLeaveClosesStaleSession(t *testing.T) {
	board, b := setup(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	b.Publish(ctx, event.PlayerJoined{At: t0, Name: "Alex"})
	b.Publish(ctx, event.PlayerJoined{At: t0.Add(10 * time.Minute), Name: "Alex"})
	b.Publish(ctx, event.PlayerLeft{At: t0.Add(15 * time.Minute), Name: "Alex"})

	s, _ := board.Player(ctx, "Alex")
	if s.Playtime != 15*time.Minute {
		t.Errorf("Playtime = %s, want 15m", s.Playtime)
	}
}

func TestCountersAndTop(t *testing.T) {
	board, b := setup(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.Publish(ctx, event.PlayerChat{At: now, Name: "Steve", Message: "hi"})
	}
	b.Publish(ctx, event.PlayerChat{At: now, Name: "Alex", Message: "yo"})
	b.Publish(ctx, event.PlayerDied{At: now, Name: "Alex", Cause: "fell"})
	b.Publish(ctx, event.PlayerAdvancement{At: now, Name: "Alex", Advancement: "Stone Age"})
	b.Publish(ctx, event.PlayerAdvancement{At: now, Name: "Alex", Advancement: "Stone Age"})
	b.Publish(ctx, event.PlayerAdvancement{At: now.Add(time.Second), Name: "Alex", Advancement: "Getting an Upgrade"})

	top, err := board.Top(ctx, "chats", 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 || top[0].Name != "Steve" || top[0].Value != 3 || top[0].Rank != 1 || top[1].Rank != 2 {
		t.Errorf("Top(chats) = %+v", top)
	}

	top, _ = board.Top(ctx, "deaths", 10)
	if len(top) != 1 || top[0].Name != "Alex" {
		t.Errorf("Top(deaths) = %+v", top)
	}

	alex, _ := board.Player(ctx, "alex")
	if alex.Advancements != 2 {
		t.Errorf("duplicate advancement counted: %d", alex.Advancements)
	}
	adv, err := board.Advancements(ctx, "Alex")
	if err != nil || len(adv) != 2 || adv[0] != "Stone Age" {
		t.Errorf("Advancements = %v, %v", adv, err)
	}

	if _, err := board.Top(ctx, "height", 1); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Top(height) error = %v", err)
	}
}

func TestPlayerNotFound(t *testing.T) {
	board, _ := setup(t)
	if _, err := board.Player(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExportJSON(t *testing.T) {
	board, b := setup(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := board.ExportJSON(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	if got := bytes.TrimSpace(buf.Bytes()); string(got) != "[]" {
		t.Errorf("empty export = %s", got)
	}

	b.Publish(ctx, event.PlayerChat{At: time.Now(), Name: "Steve", Message: "hi"})
	b.Publish(ctx, event.PlayerChat{At: time.Now(), Name: "Alex", Message: "hi"})
	buf.Reset()
	if err := board.ExportJSON(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	var out []PlayerStats
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(out) != 2 || out[0].Name != "Alex" || out[1].Chats != 1 {
		t.Errorf("export = %+v", out)
	}
}

func TestDetach(t *testing.T) {
	board, b := setup(t)
	board.Detach(b)
	b.Publish(context.Background(), event.PlayerChat{At: time.Now(), Name: "Steve"})
	if _, err := board.Player(context.Background(), "Steve"); !errors.Is(err, ErrNotFound) {
		t.Errorf("detached board still recording: %v", err)
	}
}
