package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/backup"
)

// BackupManager archives and restores the world directory.
type BackupManager interface {
	Run(ctx context.Context) (*backup.Backup, error)
	List() ([]backup.Backup, error)
	FilePath(name string) (string, error)
	Delete(name string) error
	Restore(name string) error
}

type BackupHandler struct {
	backups BackupManager
	server  ServerControl
	log     zerolog.Logger
}

func NewBackupHandler(b BackupManager, server ServerControl, log zerolog.Logger) *BackupHandler {
	return &BackupHandler{backups: b, server: server, log: log}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.List()
	if err != nil {
		h.log.Error().Err(err).Msg("list backups failed")
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// Create saves the world and archives it.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.Run(r.Context())
	if errors.Is(err, backup.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("backup failed")
		writeError(w, http.StatusInternalServerError, "failed to create backup: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Download sends a backup file to the client.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := h.backups.FilePath(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, path)
}

func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.backups.Delete(chi.URLParam(r, "name"))
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete backup")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore replaces the world with a backup. A managed server must be
// stopped first.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if h.server != nil {
		status, err := h.server.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to inspect server")
			return
		}
		if status == "running" {
			writeError(w, http.StatusConflict, "stop the server before restoring a backup")
			return
		}
	}

	err := h.backups.Restore(chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
	case errors.Is(err, backup.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("restore failed")
		writeError(w, http.StatusInternalServerError, "failed to restore backup: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "backup restored"})
	}
}
