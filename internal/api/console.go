package api

import (
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type ConsoleHandler struct {
	cmd  CommandSender
	logs LogSource
	log  zerolog.Logger
}

func NewConsoleHandler(cmd CommandSender, logs LogSource, log zerolog.Logger) *ConsoleHandler {
	return &ConsoleHandler{cmd: cmd, logs: logs, log: log}
}

// Command sends one console command.
func (h *ConsoleHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}
	if err := h.cmd.SendCommand(r.Context(), req.Command); err != nil {
		h.log.Warn().Err(err).Str("command", req.Command).Msg("command failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.log.Info().Str("command", req.Command).Msg("command sent")
	writeJSON(w, http.StatusAccepted, map[string]string{"command": req.Command})
}

// Handle is an interactive console: accepted log lines stream out and every
// text frame received is sent to the server as a command.
func (h *ConsoleHandler) Handle(w http.ResponseWriter, r *http.Request) {
	attach := func(func([]byte)) func() { return func() {} }
	if h.logs != nil {
		attach = NewLogHandler(h.logs, h.log).watch
	}
	stream(w, r, h.log, attach, h.onMessage)
}

func (h *ConsoleHandler) onMessage(ctx context.Context, msg []byte) []byte {
	command := strings.TrimSpace(string(msg))
	if command == "" {
		return nil
	}
	if err := h.cmd.SendCommand(ctx, command); err != nil {
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		return data
	}
	return nil
}
