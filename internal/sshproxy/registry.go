package sshproxy

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/remotedb"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultIdleTimeout is how long an unused tunnel stays open.
const DefaultIdleTimeout = 10 * time.Minute

// Entry is one live tunnel. Only the Registry closes it.
type Entry struct {
	pool      *gorm.DB
	listener  io.Closer
	session   io.Closer
	localPort int
	stop      func() // stops background goroutines tied to the session
	createdAt time.Time

	// guarded by Registry.mu
	lastUsed time.Time
	timer    *time.Timer
}

func newEntry(pool *gorm.DB, listener, session io.Closer, localPort int, stop func()) *Entry {
	return &Entry{
		pool:      pool,
		listener:  listener,
		session:   session,
		localPort: localPort,
		stop:      stop,
		createdAt: time.Now(),
	}
}

// Pool returns the connection pool bound to the tunnel's local port.
func (e *Entry) Pool() *gorm.DB { return e.pool }

// LocalPort returns the port of the local forwarding listener.
func (e *Entry) LocalPort() int { return e.localPort }

// close releases the pool, the listener and the SSH session. Every step runs
// even if an earlier one fails.
func (e *Entry) close() error {
	if e.stop != nil {
		e.stop()
	}
	var errs []error
	if err := remotedb.Close(e.pool); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	if e.listener != nil {
		if err := e.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ssh session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TunnelInfo describes a live tunnel.
type TunnelInfo struct {
	InstanceID string    `json:"instance_id"`
	LocalPort  int       `json:"local_port"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Registry maps instance IDs to live tunnels and evicts tunnels that have not
// been touched for the idle window.
type Registry struct {
	idle time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Registry{
		idle:    idle,
		entries: make(map[string]*Entry),
	}
}

// Get returns the live entry for id without touching it.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Put installs e for id and starts its idle timer. An entry already installed
// for id is torn down.
func (r *Registry) Put(id string, e *Entry) {
	r.mu.Lock()
	old, replaced := r.entries[id]
	if replaced && old != e {
		old.timer.Stop()
	}
	e.lastUsed = time.Now()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(r.idle, func() { r.evictIdle(id, e) })
	r.entries[id] = e
	r.mu.Unlock()

	if replaced && old != e {
		r.closeEntry(id, old, "replaced")
	}
}

// Touch resets the idle window of id's entry. It reports whether an entry
// was present.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.lastUsed = time.Now()
	e.timer.Reset(r.idle)
	return true
}

// evictIdle runs from e's idle timer. It only acts if e is still the entry
// installed for id and has not been touched since the timer was armed.
func (r *Registry) evictIdle(id string, e *Entry) {
	r.mu.Lock()
	if cur, ok := r.entries[id]; !ok || cur != e {
		r.mu.Unlock()
		return
	}
	// A Touch racing with the timer firing re-arms it; let the next run decide.
	if time.Since(e.lastUsed) < r.idle {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.closeEntry(id, e, "idle")
}

// remove tears down e if it is still the entry installed for id.
func (r *Registry) remove(id string, e *Entry, reason string) {
	r.mu.Lock()
	if cur, ok := r.entries[id]; !ok || cur != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	e.timer.Stop()
	r.mu.Unlock()

	r.closeEntry(id, e, reason)
}

// Teardown closes and removes id's entry. It is a no-op when absent.
func (r *Registry) Teardown(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	e.timer.Stop()
	r.mu.Unlock()

	r.closeEntry(id, e, "released")
}

// TeardownAll closes every entry.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	for _, e := range entries {
		e.timer.Stop()
	}
	r.mu.Unlock()

	for id, e := range entries {
		r.closeEntry(id, e, "shutdown")
	}
	if len(entries) > 0 {
		log.Info().Int("count", len(entries)).Msg("all tunnels closed")
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot lists live tunnels ordered by instance ID.
func (r *Registry) Snapshot() []TunnelInfo {
	r.mu.Lock()
	out := make([]TunnelInfo, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, TunnelInfo{
			InstanceID: id,
			LocalPort:  e.localPort,
			CreatedAt:  e.createdAt,
			LastUsedAt: e.lastUsed,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func (r *Registry) closeEntry(id string, e *Entry, reason string) {
	logger := log.With().Str("instance", logutil.SanitizeForLog(id)).Int("port", e.localPort).Str("reason", reason).Logger()
	if err := e.close(); err != nil {
		logger.Warn().Err(err).Msg("tunnel closed with errors")
		return
	}
	logger.Info().Msg("tunnel closed")
}
