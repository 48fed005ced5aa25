package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// ServerControl drives the managed game server's lifecycle.
type ServerControl interface {
	Status(ctx context.Context) (string, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

type ServerHandler struct {
	ctl  ServerControl
	game string
	log  zerolog.Logger
}

func NewServerHandler(ctl ServerControl, game string, log zerolog.Logger) *ServerHandler {
	return &ServerHandler{ctl: ctl, game: game, log: log}
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.ctl.Status(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("status failed")
		writeError(w, http.StatusBadGateway, "failed to inspect server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"game": h.game, "status": status})
}

func (h *ServerHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "start", h.ctl.Start)
}

func (h *ServerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "stop", h.ctl.Stop)
}

func (h *ServerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "restart", h.ctl.Restart)
}

func (h *ServerHandler) do(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		h.log.Error().Err(err).Str("op", op).Msg("server control failed")
		writeError(w, http.StatusBadGateway, "failed to "+op+": "+err.Error())
		return
	}
	h.log.Info().Str("op", op).Msg("server control")
	status, err := h.ctl.Status(r.Context())
	if err != nil {
		status = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]string{"game": h.game, "status": status})
}
