package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/remotedb"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	connectTimeout     = 30 * time.Second
	keepaliveInterval  = 15 * time.Second
	keepaliveMaxMisses = 3

	poolMaxOpen     = 5
	poolIdleTimeout = 30 * time.Second
	poolConnTimeout = 10 * time.Second
)

// PoolOpener opens a pool for p through the forwarder at host:port.
type PoolOpener func(p remotedb.Params, host string, port int, opts remotedb.PoolOptions) (*gorm.DB, error)

type Options struct {
	IdleTimeout        time.Duration
	ConnectTimeout     time.Duration
	KeepaliveInterval  time.Duration
	KeepaliveMaxMisses int
	Pool               remotedb.PoolOptions
	OpenPool           PoolOpener
}

func DefaultOptions() Options {
	return Options{
		IdleTimeout:        DefaultIdleTimeout,
		ConnectTimeout:     connectTimeout,
		KeepaliveInterval:  keepaliveInterval,
		KeepaliveMaxMisses: keepaliveMaxMisses,
		Pool: remotedb.PoolOptions{
			MaxOpen:        poolMaxOpen,
			IdleTimeout:    poolIdleTimeout,
			ConnectTimeout: poolConnTimeout,
		},
		OpenPool: remotedb.Open,
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = d.KeepaliveInterval
	}
	if o.KeepaliveMaxMisses <= 0 {
		o.KeepaliveMaxMisses = d.KeepaliveMaxMisses
	}
	if o.Pool.MaxOpen <= 0 {
		o.Pool = d.Pool
	}
	if o.OpenPool == nil {
		o.OpenPool = d.OpenPool
	}
}

// Manager hands out connection pools for instances, creating tunnels on
// first use. Concurrent Acquire calls for one instance share a single
// creation.
type Manager struct {
	opts     Options
	registry *Registry
	creating singleflight.Group
	sessions atomic.Int64

	// generations[id] is bumped by Release; a creation that started under
	// an older generation must not be installed.
	genMu       sync.Mutex
	generations map[string]uint64
}

// errReleased is the cause reported to callers whose tunnel creation was
// overtaken by Release.
var errReleased = errors.New("tunnel released while it was being created")

func NewManager(opts Options) *Manager {
	opts.fillDefaults()
	return &Manager{
		opts:        opts,
		registry:    NewRegistry(opts.IdleTimeout),
		generations: make(map[string]uint64),
	}
}

// Acquire returns the pool of t's live tunnel, creating the tunnel if there
// is none. Creation failures are returned as *ConnectError. ctx only bounds
// the wait; a creation in progress continues for other callers.
func (m *Manager) Acquire(ctx context.Context, t Target) (*gorm.DB, error) {
	if e, ok := m.registry.Get(t.InstanceID); ok && m.registry.Touch(t.InstanceID) {
		return e.Pool(), nil
	}

	ch := m.creating.DoChan(t.InstanceID, func() (any, error) {
		if e, ok := m.registry.Get(t.InstanceID); ok && m.registry.Touch(t.InstanceID) {
			return e.Pool(), nil
		}
		gen := m.generation(t.InstanceID)
		e, client, err := m.create(t)
		if err != nil {
			log.Warn().Err(err).Str("instance", logutil.SanitizeForLog(t.InstanceID)).Msg("tunnel creation failed")
			return nil, &ConnectError{InstanceID: t.InstanceID, Cause: err}
		}
		if !m.install(t.InstanceID, gen, e) {
			if cerr := e.close(); cerr != nil {
				log.Debug().Err(cerr).Str("instance", logutil.SanitizeForLog(t.InstanceID)).Msg("close released tunnel")
			}
			log.Info().Str("instance", logutil.SanitizeForLog(t.InstanceID)).Msg("discarded tunnel released during creation")
			return nil, &ConnectError{InstanceID: t.InstanceID, Cause: errReleased}
		}
		go m.watch(t.InstanceID, e, client)
		log.Info().
			Str("instance", logutil.SanitizeForLog(t.InstanceID)).
			Int("port", e.LocalPort()).
			Msg("tunnel opened")
		return e.Pool(), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gorm.DB), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) generation(id string) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.generations[id]
}

// install puts e in the registry unless id was released after gen was read.
func (m *Manager) install(id string, gen uint64, e *Entry) bool {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if m.generations[id] != gen {
		return false
	}
	m.registry.Put(id, e)
	return true
}

// create builds an SSH session, a forwarder and a pool. Partially built
// resources are released on failure.
func (m *Manager) create(t Target) (*Entry, *ssh.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	client, err := dialSSH(ctx, t, m.opts.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}
	m.sessions.Add(1)

	fwd, err := startForwarder(client, t.InstanceID, t.dbAddr())
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	pool, err := m.opts.OpenPool(t.DB, "127.0.0.1", fwd.Port(), m.opts.Pool)
	if err != nil {
		fwd.Close()
		client.Close()
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}

	kaCtx, stopKeepalive := context.WithCancel(context.Background())
	go keepalive(kaCtx, client, m.opts.KeepaliveInterval, m.opts.KeepaliveMaxMisses, func(err error) {
		log.Warn().Err(err).Str("instance", logutil.SanitizeForLog(t.InstanceID)).Msg("ssh connection presumed dead")
		// Closing the client makes watch tear the entry down.
		client.Close()
	})

	return newEntry(pool, fwd, client, fwd.Port(), stopKeepalive), client, nil
}

// watch tears e down when its SSH connection ends for any reason.
func (m *Manager) watch(id string, e *Entry, client *ssh.Client) {
	err := client.Wait()
	reason := "ssh connection closed"
	if err != nil {
		reason = "ssh connection error: " + err.Error()
	}
	m.registry.remove(id, e, reason)
}

// Release tears down id's tunnel, if any. Call it whenever an instance's
// connection settings change or the instance is deleted.
// A creation in flight for id is discarded instead of installed, and the
// next Acquire starts a fresh one.
func (m *Manager) Release(id string) {
	m.genMu.Lock()
	m.generations[id]++
	m.genMu.Unlock()
	m.creating.Forget(id)
	m.registry.Teardown(id)
}

// Shutdown tears down every tunnel.
func (m *Manager) Shutdown() {
	m.registry.TeardownAll()
}

// Tunnels lists live tunnels.
func (m *Manager) Tunnels() []TunnelInfo {
	return m.registry.Snapshot()
}

// SessionsOpened counts SSH sessions created by Acquire since start.
func (m *Manager) SessionsOpened() int64 {
	return m.sessions.Load()
}
