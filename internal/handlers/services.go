package handlers

import (
	"context"

	"github.com/gluk-w/flowwatch/internal/poller"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
)

// TunnelService is the part of *sshproxy.Manager the API depends on.
type TunnelService interface {
	Release(id string)
	Tunnels() []sshproxy.TunnelInfo
	Probe(ctx context.Context, t sshproxy.Target) sshproxy.ProbeResult
}

// SyncService is the part of *poller.Poller the API depends on.
type SyncService interface {
	TriggerSync(ctx context.Context, id string) (poller.SyncResult, error)
}

// Set from main before the router serves requests.
var (
	Tunnels TunnelService
	Syncer  SyncService
)
