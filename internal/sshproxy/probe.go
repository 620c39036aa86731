package sshproxy

import (
	"context"
	"time"

	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/remotedb"
	"github.com/rs/zerolog/log"
)

// ProbeResult is the outcome of a connection probe.
type ProbeResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Probe opens a throwaway tunnel to t, runs a liveness query through a
// single-connection pool and closes everything before returning. It never
// touches the registry.
func (m *Manager) Probe(ctx context.Context, t Target) ProbeResult {
	start := time.Now()
	err := m.probe(ctx, t)
	res := ProbeResult{
		Success:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = logutil.ErrorText(err)
	}
	log.Info().
		Str("instance", logutil.SanitizeForLog(t.InstanceID)).
		Bool("success", res.Success).
		Int64("latency_ms", res.LatencyMs).
		Msg("connection probe")
	return res
}

func (m *Manager) probe(ctx context.Context, t Target) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	client, err := dialSSH(dialCtx, t, m.opts.ConnectTimeout)
	if err != nil {
		return &ConnectError{InstanceID: t.InstanceID, Cause: err}
	}
	defer client.Close()

	kaCtx, stopKeepalive := context.WithCancel(ctx)
	defer stopKeepalive()
	go keepalive(kaCtx, client, m.opts.KeepaliveInterval, m.opts.KeepaliveMaxMisses, func(error) {
		client.Close()
	})

	fwd, err := startForwarder(client, t.InstanceID, t.dbAddr())
	if err != nil {
		return &ConnectError{InstanceID: t.InstanceID, Cause: err}
	}
	defer fwd.Close()

	pool, err := m.opts.OpenPool(t.DB, "127.0.0.1", fwd.Port(), remotedb.PoolOptions{
		MaxOpen:        1,
		ConnectTimeout: poolConnTimeout,
	})
	if err != nil {
		return &ConnectError{InstanceID: t.InstanceID, Cause: err}
	}
	defer remotedb.Close(pool)

	queryCtx, cancelQuery := context.WithTimeout(ctx, poolConnTimeout)
	defer cancelQuery()
	return remotedb.Ping(queryCtx, pool)
}
