package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/leaderboard"
	"github.com/reedfamily/reedlink/internal/online"
)

type PlayerHandler struct {
	online *online.Tracker
	board  *leaderboard.Board
	log    zerolog.Logger
}

func NewPlayerHandler(t *online.Tracker, b *leaderboard.Board, log zerolog.Logger) *PlayerHandler {
	return &PlayerHandler{online: t, board: b, log: log}
}

// Online lists connected players.
func (h *PlayerHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   h.online.Count(),
		"players": h.online.Players(),
	})
}

// Leaderboard ranks players by ?metric= (default playtime), ?limit= rows.
func (h *PlayerHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "playtime"
	}
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.board.Top(r.Context(), metric, limit)
	if err != nil {
		if errors.Is(err, leaderboard.ErrUnknownMetric) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   err.Error(),
				"metrics": leaderboard.Metrics(),
			})
			return
		}
		h.log.Error().Err(err).Msg("leaderboard query failed")
		writeError(w, http.StatusInternalServerError, "failed to query leaderboard")
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "entries": entries})
}

// Player returns one player's totals and advancements.
func (h *PlayerHandler) Player(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := h.board.Player(r.Context(), name)
	if err != nil {
		if errors.Is(err, leaderboard.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		h.log.Error().Err(err).Str("player", name).Msg("player query failed")
		writeError(w, http.StatusInternalServerError, "failed to query player")
		return
	}
	adv, err := h.board.Advancements(r.Context(), name)
	if err != nil {
		h.log.Error().Err(err).Str("player", name).Msg("advancement query failed")
		writeError(w, http.StatusInternalServerError, "failed to query player")
		return
	}
	if adv == nil {
		adv = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":        stats,
		"online":       h.online.IsOnline(name),
		"advancements": adv,
	})
}

// Export downloads every player's totals as JSON.
func (h *PlayerHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="reedlink-leaderboard.json"`)
	if err := h.board.ExportJSON(r.Context(), w); err != nil {
		h.log.Error().Err(err).Msg("leaderboard export failed")
	}
}
