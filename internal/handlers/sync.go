package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
	"github.com/go-chi/chi/v5"
)

// TriggerSync runs a manual sync. Concurrent requests for the same instance
// share one run.
func TriggerSync(w http.ResponseWriter, r *http.Request) {
	if Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "Sync engine not initialized")
		return
	}

	res, err := Syncer.TriggerSync(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "Instance not found")
	case errors.Is(err, sshproxy.ErrConnectFailed):
		writeError(w, http.StatusBadGateway, logutil.ErrorText(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Sync still running")
	default:
		writeError(w, http.StatusInternalServerError, logutil.ErrorText(err))
	}
}

// GetSyncStatus returns the stored outcome of the latest sync. An instance
// that was never synced reports an empty status.
func GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	inst := loadInstance(w, r)
	if inst == nil {
		return
	}
	status, err := database.GetSyncStatus(inst.ID)
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusOK, database.SyncStatus{InstanceID: inst.ID})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
