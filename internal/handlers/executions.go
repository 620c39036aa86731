package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/go-chi/chi/v5"
)

type executionPage struct {
	Items  []database.Execution `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

func ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.ExecutionFilter{
		InstanceID: q.Get("instance_id"),
		Status:     q.Get("status"),
		WorkflowID: q.Get("workflow_id"),
		Limit:      queryInt(r, "limit", 50, 1, 500),
		Offset:     queryInt(r, "offset", 0, 0, 1<<31-1),
	}

	rows, total, err := database.ListExecutions(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}
	if rows == nil {
		rows = []database.Execution{}
	}
	writeJSON(w, http.StatusOK, executionPage{Items: rows, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}
	e, err := database.GetExecution(uint(id))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Execution not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load execution")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DailyStats returns per-day execution counts keyed by UTC date, oldest first.
func DailyStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 1, 365)
	stats, err := database.DailyStats(r.URL.Query().Get("instance_id"), days, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
