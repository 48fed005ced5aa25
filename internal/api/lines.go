package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/event"
)

// LineFeeder classifies raw console lines.
type LineFeeder interface {
	Feed(ctx context.Context, raw string) event.Event
	Lines() uint64
}

// NotificationHandler publishes a management-protocol document.
type NotificationHandler interface {
	Handle(ctx context.Context, body []byte) ([]event.Event, error)
}

type IngestHandler struct {
	feeder LineFeeder
	notify NotificationHandler
	log    zerolog.Logger
}

func NewIngestHandler(feeder LineFeeder, notify NotificationHandler, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{feeder: feeder, notify: notify, log: log}
}

type ingestResult struct {
	Lines  int            `json:"lines"`
	Events map[string]int `json:"events"`
}

// Lines feeds a plain-text body, one console line per line, through the
// classifier. It lets an external tailer stand in for the built-in sources.
func (h *IngestHandler) Lines(w http.ResponseWriter, r *http.Request) {
	res := ingestResult{Events: map[string]int{}}
	sc := bufio.NewScanner(http.MaxBytesReader(w, r.Body, maxBody))
	sc.Buffer(make([]byte, 64*1024), maxBody)
	for sc.Scan() {
		res.Lines++
		if e := h.feeder.Feed(r.Context(), sc.Text()); e != nil {
			res.Events[e.Kind().String()]++
		}
	}
	if err := sc.Err(); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// Notification publishes a JSON-RPC notification (or a batch of them).
func (h *IngestHandler) Notification(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	events, err := h.notify.Handle(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind().String()
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"events": kinds})
}
