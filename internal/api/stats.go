package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/listener"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// HealthSource holds the most recent health snapshot.
type HealthSource interface {
	Latest() (event.HealthSnapshot, bool)
}

type StatsHandler struct {
	bus    *bus.Bus
	sched  *scheduler.Scheduler
	logs   LogSource
	feeder LineFeeder
	health HealthSource
	log    zerolog.Logger
}

func NewStatsHandler(b *bus.Bus, s *scheduler.Scheduler, logs LogSource, feeder LineFeeder, health HealthSource, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{bus: b, sched: s, logs: logs, feeder: feeder, health: health, log: log}
}

type statsResponse struct {
	Bus      bus.Stats       `json:"bus"`
	Listener *listener.Stats `json:"listener,omitempty"`
	Lines    uint64          `json:"lines"`
	Tasks    int             `json:"tasks"`
}

// Stats reports pipeline counters.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Bus: h.bus.Stats()}
	if h.logs != nil {
		st := h.logs.Stats()
		resp.Listener = &st
	}
	if h.feeder != nil {
		resp.Lines = h.feeder.Lines()
	}
	if h.sched != nil {
		resp.Tasks = len(h.sched.Tasks())
	}
	writeJSON(w, http.StatusOK, resp)
}

// Latest returns the most recent health snapshot.
func (h *StatsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeError(w, http.StatusNotFound, "no stats available")
		return
	}
	snap, ok := h.health.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no stats available")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Live pushes each health snapshot as it is published, starting with the
// latest one.
func (h *StatsHandler) Live(w http.ResponseWriter, r *http.Request) {
	stream(w, r, h.log, func(send func([]byte)) func() {
		if h.health != nil {
			if snap, ok := h.health.Latest(); ok {
				if data, err := event.Encode(snap); err == nil {
					send(data)
				}
			}
		}
		sub := h.bus.Subscribe(event.KindHealthSnapshot, func(_ context.Context, e event.Event) error {
			data, err := event.Encode(e)
			if err != nil {
				return err
			}
			send(data)
			return nil
		}, bus.WithPriority(watchPriority), bus.WithName("websocket"))
		return func() { h.bus.Unsubscribe(sub) }
	}, nil)
}
