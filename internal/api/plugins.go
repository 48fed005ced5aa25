package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/plugin"
)

// PluginManager lists and reloads Lua plugins.
type PluginManager interface {
	Plugins() []plugin.Info
	Reload() (int, error)
	Unload(name string) bool
}

type PluginHandler struct {
	plugins PluginManager
	log     zerolog.Logger
}

func NewPluginHandler(p PluginManager, log zerolog.Logger) *PluginHandler {
	return &PluginHandler{plugins: p, log: log}
}

func (h *PluginHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.plugins.Plugins())
}

// Reload unloads every plugin and loads the plugin directory again.
func (h *PluginHandler) Reload(w http.ResponseWriter, r *http.Request) {
	n, err := h.plugins.Reload()
	if err != nil {
		h.log.Error().Err(err).Msg("plugin reload failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": n, "plugins": h.plugins.Plugins()})
}

func (h *PluginHandler) Unload(w http.ResponseWriter, r *http.Request) {
	if !h.plugins.Unload(chi.URLParam(r, "name")) {
		writeError(w, http.StatusNotFound, "plugin not loaded")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
