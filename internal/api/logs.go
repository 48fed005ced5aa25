package api

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/listener"
)

// LogSource is the log history the API serves.
type LogSource interface {
	Buffered() []event.ServerLog
	Watch(f func(event.ServerLog)) (unwatch func())
	Stats() listener.Stats
}

type LogHandler struct {
	logs LogSource
	log  zerolog.Logger
}

func NewLogHandler(logs LogSource, log zerolog.Logger) *LogHandler {
	return &LogHandler{logs: logs, log: log}
}

// List returns buffered lines, oldest first. ?level= filters
// case-insensitively and ?limit= keeps only the newest n.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.logs.Buffered()

	if level := r.URL.Query().Get("level"); level != "" {
		kept := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Level, level) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Export streams the buffer as gzip-compressed JSON lines.
func (h *LogHandler) Export(w http.ResponseWriter, r *http.Request) {
	entries := h.logs.Buffered()

	name := fmt.Sprintf("reedlink-logs-%s.jsonl.gz", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	zw := gzip.NewWriter(w)
	bw := bufio.NewWriter(zw)
	for _, e := range entries {
		data, err := event.Encode(e)
		if err != nil {
			h.log.Warn().Err(err).Msg("skip unencodable log entry")
			continue
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		h.log.Warn().Err(err).Msg("log export aborted")
		return
	}
	if err := zw.Close(); err != nil {
		h.log.Warn().Err(err).Msg("log export aborted")
	}
}

// Live pushes every accepted line over a websocket.
func (h *LogHandler) Live(w http.ResponseWriter, r *http.Request) {
	stream(w, r, h.log, h.watch, nil)
}

func (h *LogHandler) watch(send func([]byte)) func() {
	return h.logs.Watch(func(l event.ServerLog) {
		if data, err := event.Encode(l); err == nil {
			send(data)
		}
	})
}
