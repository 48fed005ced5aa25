package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
)

var (
	ErrNotFound      = errors.New("player not found")
	ErrUnknownMetric = errors.New("unknown metric")
)

// metrics maps public metric names to columns.
var metrics = map[string]string{
	"playtime":     "playtime_ms",
	"joins":        "joins",
	"chats":        "chats",
	"deaths":       "deaths",
	"advancements": "advancements",
}

type PlayerStats struct {
	Name         string        `json:"name"`
	Joins        int64         `json:"joins"`
	Chats        int64         `json:"chats"`
	Deaths       int64         `json:"deaths"`
	Advancements int64         `json:"advancements"`
	Playtime     time.Duration `json:"playtime"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastSeen     time.Time     `json:"last_seen"`
}

type Entry struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Board records player activity from bus events into SQLite.
type Board struct {
	db   *sql.DB
	log  zerolog.Logger
	subs []*bus.Subscription
}

func New(db *sql.DB, log zerolog.Logger) *Board {
	return &Board{db: db, log: log.With().Str("component", "leaderboard").Logger()}
}

func (b *Board) Attach(eb *bus.Bus) {
	name := bus.WithName("leaderboard")
	b.subs = append(b.subs,
		eb.Subscribe(event.KindPlayerJoined, b.onJoined, name),
		eb.Subscribe(event.KindPlayerLeft, b.onLeft, name),
		eb.Subscribe(event.KindPlayerChat, b.onChat, name),
		eb.Subscribe(event.KindPlayerDied, b.onDied, name),
		eb.Subscribe(event.KindPlayerAdvancement, b.onAdvancement, name),
		eb.Subscribe(event.KindServerStarting, b.onServerReset, name),
		eb.Subscribe(event.KindServerStopped, b.onServerReset, name),
	)
}

func (b *Board) Detach(eb *bus.Bus) {
	for _, s := range b.subs {
		eb.Unsubscribe(s)
	}
	b.subs = nil
}

func (b *Board) onJoined(ctx context.Context, e event.Event) error {
	ev := e.(event.PlayerJoined)
	at := ev.At.UnixMilli()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := touch(ctx, tx, ev.Name, at); err != nil {
		return err
	}
	// a join without a leave (crash, missed line) closes the stale session first
	if err := closeSessions(ctx, tx, ev.Name, at, "superseded"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE players SET joins = joins + 1 WHERE name = ?`, ev.Name); err != nil {
		return fmt.Errorf("count join: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (player, address, joined_at) VALUES (?, ?, ?)`, ev.Name, ev.Address, at); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return tx.Commit()
}

func (b *Board) onLeft(ctx context.Context, e event.Event) error {
	ev := e.(event.PlayerLeft)
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := touch(ctx, tx, ev.Name, ev.At.UnixMilli()); err != nil {
		return err
	}
	if err := closeSessions(ctx, tx, ev.Name, ev.At.UnixMilli(), ev.Reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Board) onServerReset(ctx context.Context, e event.Event) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := closeSessions(ctx, tx, "", e.When().UnixMilli(), "server stopped"); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Board) onChat(ctx context.Context, e event.Event) error {
	ev := e.(event.PlayerChat)
	return b.bump(ctx, ev.Name, "chats", ev.At)
}

func (b *Board) onDied(ctx context.Context, e event.Event) error {
	ev := e.(event.PlayerDied)
	return b.bump(ctx, ev.Name, "deaths", ev.At)
}

func (b *Board) onAdvancement(ctx context.Context, e event.Event) error {
	ev := e.(event.PlayerAdvancement)
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := touch(ctx, tx, ev.Name, ev.At.UnixMilli()); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO player_advancements (player, advancement, achieved_at) VALUES (?, ?, ?)`,
		ev.Name, ev.Advancement, ev.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record advancement: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE players SET advancements = advancements + 1 WHERE name = ?`, ev.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Board) bump(ctx context.Context, name, column string, at time.Time) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := touch(ctx, tx, name, at.UnixMilli()); err != nil {
		return err
	}
	// column comes from a fixed set of callers, never from input
	if _, err := tx.ExecContext(ctx, `UPDATE players SET `+column+` = `+column+` + 1 WHERE name = ?`, name); err != nil {
		return fmt.Errorf("count %s: %w", column, err)
	}
	return tx.Commit()
}

func touch(ctx context.Context, tx *sql.Tx, name string, at int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO players (name, display_name, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name, last_seen = MAX(last_seen, excluded.last_seen)`,
		name, name, at, at)
	if err != nil {
		return fmt.Errorf("upsert player %s: %w", name, err)
	}
	return nil
}

// closeSessions ends the open sessions of player (all players if empty) at
// time at and credits the playtime.
func closeSessions(ctx context.Context, tx *sql.Tx, player string, at int64, reason string) error {
	open := `SELECT player FROM sessions WHERE left_at IS NULL`
	var filter []any
	if player != "" {
		open += ` AND player = ?`
		filter = append(filter, player)
	}

	credit := `UPDATE players SET playtime_ms = playtime_ms + (
		SELECT COALESCE(SUM(MAX(0, ? - s.joined_at)), 0) FROM sessions s
		WHERE s.player = players.name AND s.left_at IS NULL)
	WHERE name IN (` + open + `)`
	if _, err := tx.ExecContext(ctx, credit, append([]any{at}, filter...)...); err != nil {
		return fmt.Errorf("credit playtime: %w", err)
	}

	end := `UPDATE sessions SET left_at = ?, reason = ? WHERE left_at IS NULL`
	if player != "" {
		end += ` AND player = ?`
	}
	if _, err := tx.ExecContext(ctx, end, append([]any{at, reason}, filter...)...); err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}
	return nil
}

// Top returns the n best players by metric.
func (b *Board) Top(ctx context.Context, metric string, n int) ([]Entry, error) {
	col, ok := metrics[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if n <= 0 {
		n = 10
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT display_name, `+col+` FROM players WHERE `+col+` > 0 ORDER BY `+col+` DESC, name ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", metric, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{Rank: len(out) + 1}
		if err := rows.Scan(&e.Name, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Metrics lists the accepted metric names.
func Metrics() []string {
	return []string{"playtime", "joins", "chats", "deaths", "advancements"}
}

const statsColumns = `display_name, joins, chats, deaths, advancements, playtime_ms, first_seen, last_seen`

func scanStats(row interface{ Scan(...any) error }) (PlayerStats, error) {
	var (
		s              PlayerStats
		playMs, fs, ls int64
	)
	if err := row.Scan(&s.Name, &s.Joins, &s.Chats, &s.Deaths, &s.Advancements, &playMs, &fs, &ls); err != nil {
		return PlayerStats{}, err
	}
	s.Playtime = time.Duration(playMs) * time.Millisecond
	s.FirstSeen = time.UnixMilli(fs).UTC()
	s.LastSeen = time.UnixMilli(ls).UTC()
	return s, nil
}

func (b *Board) Player(ctx context.Context, name string) (PlayerStats, error) {
	s, err := scanStats(b.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM players WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerStats{}, ErrNotFound
	}
	return s, err
}

// Advancements lists what name has achieved, oldest first.
func (b *Board) Advancements(ctx context.Context, name string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT advancement FROM player_advancements WHERE player = ? ORDER BY achieved_at, advancement`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExportJSON writes every player's stats as a JSON array.
func (b *Board) ExportJSON(ctx context.Context, w io.Writer) error {
	rows, err := b.db.QueryContext(ctx, `SELECT `+statsColumns+` FROM players ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	all := []PlayerStats{}
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return err
		}
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}
