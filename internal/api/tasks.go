package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/scheduler"
)

// CommandSender delivers console commands to the game server.
type CommandSender interface {
	SendCommand(ctx context.Context, command string) error
}

type TaskHandler struct {
	sched *scheduler.Scheduler
	cmd   CommandSender
	log   zerolog.Logger
}

func NewTaskHandler(s *scheduler.Scheduler, cmd CommandSender, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{sched: s, cmd: cmd, log: log}
}

// List returns every live task.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.sched.Tasks()
	out := make([]scheduler.Info, len(tasks))
	for i, t := range tasks {
		out[i] = t.Info()
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one task.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	t := h.sched.Get(chi.URLParam(r, "id"))
	if t == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t.Info())
}

// Create schedules a console command on a cron expression.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Cron    string `json:"cron"`
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Cron == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "cron and command are required")
		return
	}
	if h.cmd == nil {
		writeError(w, http.StatusServiceUnavailable, "no command channel")
		return
	}
	if req.Name == "" {
		req.Name = "command"
	}

	t, err := h.sched.CallCron(req.Name, req.Cron, CommandAction(h.cmd, req.Command))
	if err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "scheduler closed")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Str("task", t.ID()).Str("cron", req.Cron).Str("command", req.Command).Msg("command scheduled")
	writeJSON(w, http.StatusCreated, t.Info())
}

// Cancel stops a task. A task that already finished is a conflict.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	t := h.sched.Get(chi.URLParam(r, "id"))
	if t == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !t.Cancel() {
		writeError(w, http.StatusConflict, "task already "+t.State().String())
		return
	}
	writeJSON(w, http.StatusOK, t.Info())
}

// CommandAction is a scheduler action that sends command.
func CommandAction(cmd CommandSender, command string) scheduler.Action {
	return func(ctx context.Context) error {
		return cmd.SendCommand(ctx, command)
	}
}
