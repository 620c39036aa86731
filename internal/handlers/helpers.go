package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// queryInt returns the integer query parameter name, or def when it is
// missing, malformed or outside [min, max].
func queryInt(r *http.Request, name string, def, min, max int) int {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}
