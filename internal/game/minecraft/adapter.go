package minecraft

import (
	"regexp"
	"time"

	"github.com/reedfamily/reedlink/internal/classify"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/game"
)

func init() {
	game.Register(&Adapter{})
}

type Adapter struct{}

var (
	// [12:00:00] [Server thread/INFO]: msg
	// [12:00:00] [Server thread/INFO] [minecraft/DedicatedServer]: msg
	vanillaRe = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\] \[([^\]]+)/(\w+)\](?: \[[^\]]+\])?: ?(.*)$`)
	// [12:00:00 INFO]: msg
	paperRe = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2}) (\w+)\]: ?(.*)$`)
)

const player = `(?P<name>[A-Za-z0-9_]{1,16})`

const (
	prioritySession   = 100
	priorityChat      = 80
	priorityProgress  = 70
	priorityDeath     = 60
	priorityLifecycle = 50
)

var matchers = []classify.Matcher{
	classify.MustRegexMatcher("player-joined", prioritySession,
		`^`+player+`\[/(?P<addr>[^\]]+)\] logged in with entity id (?P<id>\d+)`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerJoined{At: time.Now(), Name: g.Get("name"), Address: g.Get("addr"), EntityID: g.Int("id", 0)}, nil
		}),
	classify.MustRegexMatcher("player-left", prioritySession,
		`^`+player+` lost connection: (?P<reason>.*)$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerLeft{At: time.Now(), Name: g.Get("name"), Reason: g.Get("reason")}, nil
		}),
	classify.MustRegexMatcher("player-chat", priorityChat,
		`^(?:\[Not Secure\] )?<`+player+`> (?P<msg>.*)$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerChat{At: time.Now(), Name: g.Get("name"), Message: g.Get("msg")}, nil
		}),
	classify.MustRegexMatcher("player-advancement", priorityProgress,
		`^`+player+` has (?:made the advancement|reached the goal|completed the challenge) \[(?P<adv>.+)\]$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerAdvancement{At: time.Now(), Name: g.Get("name"), Advancement: g.Get("adv")}, nil
		}),
	classify.MustRegexMatcher("player-died", priorityDeath,
		`^`+player+` (?P<cause>(?:was|fell|drowned|died|burned|blew up|hit the ground|went up in flames|walked into|tried to swim|starved|suffocated|withered|froze|experienced kinetic energy|discovered the floor|didn't want to live)\b.*)$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerDied{At: time.Now(), Name: g.Get("name"), Cause: g.Get("cause")}, nil
		}, classify.WithLevels("INFO")),
	classify.MustRegexMatcher("server-starting", priorityLifecycle,
		`^Starting minecraft server version (?P<version>\S+)`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.ServerStarting{At: time.Now(), Version: g.Get("version")}, nil
		}),
	classify.MustRegexMatcher("server-started", priorityLifecycle,
		`^Done \((?P<secs>[\d.]+)s\)! For help, type`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			secs := g.Float("secs", 0)
			return event.ServerStarted{At: time.Now(), Startup: time.Duration(secs * float64(time.Second))}, nil
		}),
	classify.MustRegexMatcher("server-stopping", priorityLifecycle,
		`^Stopping (?:the )?server$`,
		func(classify.Line, classify.Groups) (event.Event, error) {
			return event.ServerStopping{At: time.Now()}, nil
		}),
	classify.MustRegexMatcher("server-saved", priorityLifecycle,
		`^Saved the game$`,
		func(classify.Line, classify.Groups) (event.Event, error) {
			return event.ServerSaved{At: time.Now()}, nil
		}),
	classify.MustRegexMatcher("rcon-ready", priorityLifecycle,
		`^RCON running on (?P<addr>\S+)$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.RconReady{At: time.Now(), Addr: g.Get("addr")}, nil
		}),
}

func (a *Adapter) Game() string { return "minecraft" }

func (a *Adapter) SplitLine(raw string) (classify.Line, bool) {
	if m := vanillaRe.FindStringSubmatch(raw); m != nil {
		return classify.Line{Thread: m[2], Level: m[3], Message: m[4]}, true
	}
	if m := paperRe.FindStringSubmatch(raw); m != nil {
		return classify.Line{Level: m[2], Message: m[3]}, true
	}
	return classify.Line{Message: raw}, false
}

func (a *Adapter) Matchers() []classify.Matcher {
	out := make([]classify.Matcher, len(matchers))
	copy(out, matchers)
	return out
}

func (a *Adapter) PlayerCommand() string { return "list" }
func (a *Adapter) StopCommand() string   { return "stop" }
func (a *Adapter) SaveCommand() string   { return "save-all" }
