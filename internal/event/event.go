package event

import (
	"encoding/json"
	"time"
)

// Kind tags every event variant. Dispatch is keyed by Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindServerStarting
	KindServerStarted
	KindServerStopping
	KindServerStopped
	KindServerSaved
	KindRconReady
	KindPlayerJoined
	KindPlayerLeft
	KindPlayerChat
	KindPlayerAdvancement
	KindPlayerDied
	KindServerLog
	KindNotification
	KindHealthSnapshot
	KindCustom
)

var kindNames = map[Kind]string{
	KindServerStarting:    "server_starting",
	KindServerStarted:     "server_started",
	KindServerStopping:    "server_stopping",
	KindServerStopped:     "server_stopped",
	KindServerSaved:       "server_saved",
	KindRconReady:         "rcon_ready",
	KindPlayerJoined:      "player_joined",
	KindPlayerLeft:        "player_left",
	KindPlayerChat:        "player_chat",
	KindPlayerAdvancement: "player_advancement",
	KindPlayerDied:        "player_died",
	KindServerLog:         "server_log",
	KindNotification:      "notification",
	KindHealthSnapshot:    "health_snapshot",
	KindCustom:            "custom",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// Kinds returns every dispatchable kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := KindServerStarting; k <= KindCustom; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Event is something that happened in or around the managed server.
// Implementations are values and must not be mutated after construction.
type Event interface {
	Kind() Kind
	When() time.Time
}

type ServerStarting struct {
	At      time.Time `json:"at"`
	Version string    `json:"version"`
}

type ServerStarted struct {
	At      time.Time     `json:"at"`
	Startup time.Duration `json:"startup"`
}

type ServerStopping struct {
	At time.Time `json:"at"`
}

type ServerStopped struct {
	At       time.Time `json:"at"`
	ExitCode int       `json:"exit_code"`
}

type ServerSaved struct {
	At time.Time `json:"at"`
}

type RconReady struct {
	At   time.Time `json:"at"`
	Addr string    `json:"addr"`
}

type PlayerJoined struct {
	At       time.Time `json:"at"`
	Name     string    `json:"name"`
	Address  string    `json:"address,omitempty"`
	EntityID int       `json:"entity_id,omitempty"`
}

type PlayerLeft struct {
	At     time.Time `json:"at"`
	Name   string    `json:"name"`
	Reason string    `json:"reason,omitempty"`
}

type PlayerChat struct {
	At      time.Time `json:"at"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
}

type PlayerAdvancement struct {
	At          time.Time `json:"at"`
	Name        string    `json:"name"`
	Advancement string    `json:"advancement"`
}

type PlayerDied struct {
	At    time.Time `json:"at"`
	Name  string    `json:"name"`
	Cause string    `json:"cause"`
}

// ServerLog is a raw console line that no specific matcher claimed.
type ServerLog struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Level   string    `json:"level"`
	Thread  string    `json:"thread,omitempty"`
}

// Notification is a management-protocol notification with no dedicated variant.
type Notification struct {
	At     time.Time       `json:"at"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type HealthSnapshot struct {
	At             time.Time `json:"at"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryBytes    int64     `json:"memory_bytes"`
	MemoryLimit    int64     `json:"memory_limit"`
	HostLoad1      float64   `json:"host_load1"`
	HostMemPercent float64   `json:"host_mem_percent"`
	Players        int       `json:"players"`
}

// Custom carries plugin-defined events. Payload is opaque to the core.
type Custom struct {
	At      time.Time `json:"at"`
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
}

func (ServerStarting) Kind() Kind    { return KindServerStarting }
func (ServerStarted) Kind() Kind     { return KindServerStarted }
func (ServerStopping) Kind() Kind    { return KindServerStopping }
func (ServerStopped) Kind() Kind     { return KindServerStopped }
func (ServerSaved) Kind() Kind       { return KindServerSaved }
func (RconReady) Kind() Kind         { return KindRconReady }
func (PlayerJoined) Kind() Kind      { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind        { return KindPlayerLeft }
func (PlayerChat) Kind() Kind        { return KindPlayerChat }
func (PlayerAdvancement) Kind() Kind { return KindPlayerAdvancement }
func (PlayerDied) Kind() Kind        { return KindPlayerDied }
func (ServerLog) Kind() Kind         { return KindServerLog }
func (Notification) Kind() Kind      { return KindNotification }
func (HealthSnapshot) Kind() Kind    { return KindHealthSnapshot }
func (Custom) Kind() Kind            { return KindCustom }

func (e ServerStarting) When() time.Time    { return e.At }
func (e ServerStarted) When() time.Time     { return e.At }
func (e ServerStopping) When() time.Time    { return e.At }
func (e ServerStopped) When() time.Time     { return e.At }
func (e ServerSaved) When() time.Time       { return e.At }
func (e RconReady) When() time.Time         { return e.At }
func (e PlayerJoined) When() time.Time      { return e.At }
func (e PlayerLeft) When() time.Time        { return e.At }
func (e PlayerChat) When() time.Time        { return e.At }
func (e PlayerAdvancement) When() time.Time { return e.At }
func (e PlayerDied) When() time.Time        { return e.At }
func (e ServerLog) When() time.Time         { return e.At }
func (e Notification) When() time.Time      { return e.At }
func (e HealthSnapshot) When() time.Time    { return e.At }
func (e Custom) When() time.Time            { return e.At }
