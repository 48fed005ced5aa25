package vintagestory

import (
	"regexp"
	"strings"
	"time"

	"github.com/reedfamily/reedlink/internal/classify"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/game"
)

func init() {
	game.Register(&Adapter{})
}

type Adapter struct{}

// 4.1.2024 12:00:00 [Server Notification] msg
var prefixRe = regexp.MustCompile(`^(\d{1,2}\.\d{1,2}\.\d{4} \d{1,2}:\d{2}:\d{2}) \[(?:Server )?([^\]]+)\] ?(.*)$`)

var matchers = []classify.Matcher{
	classify.MustRegexMatcher("player-joined", 100,
		`^Player (?P<name>\S+) joins\b`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerJoined{At: time.Now(), Name: g.Get("name")}, nil
		}),
	classify.MustRegexMatcher("player-left", 100,
		`^Player (?P<name>\S+) left\b(?:\.? ?(?P<reason>.*))?$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerLeft{At: time.Now(), Name: g.Get("name"), Reason: strings.TrimSpace(g.Get("reason"))}, nil
		}),
	classify.MustRegexMatcher("player-chat", 80,
		`^(?:\d+ \| )?(?P<name>[^:\s]+): (?P<msg>.*)$`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.PlayerChat{At: time.Now(), Name: g.Get("name"), Message: g.Get("msg")}, nil
		}, classify.WithLevels("Chat")),
	classify.MustRegexMatcher("server-starting", 50,
		`^Game Version: v?(?P<version>\S+)`,
		func(_ classify.Line, g classify.Groups) (event.Event, error) {
			return event.ServerStarting{At: time.Now(), Version: g.Get("version")}, nil
		}),
	classify.MustRegexMatcher("server-started", 50,
		`^Dedicated Server now running`,
		func(classify.Line, classify.Groups) (event.Event, error) {
			return event.ServerStarted{At: time.Now()}, nil
		}),
	classify.MustRegexMatcher("server-stopping", 50,
		`^Server shutting down`,
		func(classify.Line, classify.Groups) (event.Event, error) {
			return event.ServerStopping{At: time.Now()}, nil
		}),
	classify.MustRegexMatcher("server-saved", 50,
		`^(?:Autosaving game world|Game world saved)`,
		func(classify.Line, classify.Groups) (event.Event, error) {
			return event.ServerSaved{At: time.Now()}, nil
		}),
}

func (a *Adapter) Game() string { return "vintagestory" }

func (a *Adapter) SplitLine(raw string) (classify.Line, bool) {
	if m := prefixRe.FindStringSubmatch(raw); m != nil {
		return classify.Line{Level: m[2], Message: m[3]}, true
	}
	return classify.Line{Message: raw}, false
}

func (a *Adapter) Matchers() []classify.Matcher {
	out := make([]classify.Matcher, len(matchers))
	copy(out, matchers)
	return out
}

func (a *Adapter) PlayerCommand() string { return "/list clients" }
func (a *Adapter) StopCommand() string   { return "/stop" }
func (a *Adapter) SaveCommand() string   { return "/autosavenow" }
