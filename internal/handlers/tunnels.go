package handlers

import (
	"net/http"

	"github.com/gluk-w/flowwatch/internal/sshproxy"
)

// ListTunnels returns the live tunnels, ordered by instance ID.
func ListTunnels(w http.ResponseWriter, r *http.Request) {
	if Tunnels == nil {
		writeJSON(w, http.StatusOK, []sshproxy.TunnelInfo{})
		return
	}
	tunnels := Tunnels.Tunnels()
	if tunnels == nil {
		tunnels = []sshproxy.TunnelInfo{}
	}
	writeJSON(w, http.StatusOK, tunnels)
}
