// Package poller keeps the local execution cache in step with every
// configured instance, on a fixed schedule and on demand.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/remotedb"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultBackfill = 30 * 24 * time.Hour
	// SkewMargin is subtracted from the cursor so rows stamped by a remote
	// clock running slightly behind ours are not missed.
	SkewMargin       = 5 * time.Minute
	DefaultBatchSize = 500
)

// Connector hands out a pool for an instance's remote database.
type Connector interface {
	Acquire(ctx context.Context, t sshproxy.Target) (*gorm.DB, error)
}

type Options struct {
	// Interval is rounded to whole seconds by the scheduler, with a
	// one-second minimum.
	Interval  time.Duration
	Backfill  time.Duration
	BatchSize int
	Now       func() time.Time
	// Target resolves connection details; defaults to sshproxy.TargetFromInstance.
	Target func(*database.Instance) (sshproxy.Target, error)
}

// SyncResult describes one sync attempt for one instance.
type SyncResult struct {
	InstanceID string    `json:"instance_id"`
	Since      time.Time `json:"since"`
	Fetched    int       `json:"fetched"`
	Upserted   int       `json:"upserted"`
	DurationMs int64     `json:"duration_ms"`
	Err        error     `json:"-"`
}

type Poller struct {
	conn Connector
	opts Options

	running atomic.Bool // a global cycle is in progress
	manual  singleflight.Group
	initial sync.WaitGroup // the run kicked off by Start

	mu   sync.Mutex
	cron *cron.Cron
}

func New(conn Connector, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Backfill <= 0 {
		opts.Backfill = DefaultBackfill
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Target == nil {
		opts.Target = sshproxy.TargetFromInstance
	}
	return &Poller{conn: conn, opts: opts}
}

// Start runs one cycle immediately and then one every interval until Stop.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("poller already started")
	}

	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	cycle := cron.FuncJob(func() { p.PollAll(context.Background()) })
	if _, err := c.AddJob("@every "+p.opts.Interval.String(), cycle); err != nil {
		return fmt.Errorf("schedule poll cycle: %w", err)
	}
	c.Start()
	p.cron = c

	first := cron.NewChain(cron.Recover(cronLogger{})).Then(cycle)
	p.initial.Add(1)
	go func() {
		defer p.initial.Done()
		first.Run()
	}()
	log.Info().Dur("interval", p.opts.Interval).Msg("poller started")
	return nil
}

// Stop prevents new cycles from starting and waits for a running cycle to
// finish or for ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		p.initial.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poll cycle: %w", ctx.Err())
	}
}

// PollAll syncs every instance, one at a time. It reports false without
// doing anything when another cycle is already running.
func (p *Poller) PollAll(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		log.Info().Msg("poll cycle already running, skipping")
		return false
	}
	defer p.running.Store(false)

	instances, err := database.ListInstances()
	if err != nil {
		log.Error().Err(err).Msg("poll cycle: list instances")
		return true
	}

	start := time.Now()
	failed := 0
	for i := range instances {
		if ctx.Err() != nil {
			break
		}
		if res := p.PollInstance(ctx, &instances[i]); res.Err != nil {
			failed++
		}
	}
	log.Debug().
		Int("instances", len(instances)).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("poll cycle finished")
	return true
}

// PollInstance fetches every remote execution created since the instance's
// cursor, upserts them and records the outcome. The cursor only advances
// once every batch is stored.
func (p *Poller) PollInstance(ctx context.Context, inst *database.Instance) SyncResult {
	start := time.Now()
	res := SyncResult{InstanceID: inst.ID}
	err := p.sync(ctx, inst, &res)
	res.DurationMs = time.Since(start).Milliseconds()

	logger := log.With().
		Str("instance", logutil.SanitizeForLog(inst.ID)).
		Str("name", logutil.SanitizeForLog(inst.Name)).
		Logger()
	if err != nil {
		res.Err = err
		if werr := database.RecordSyncFailure(ctx, inst.ID, logutil.ErrorText(err)); werr != nil {
			logger.Error().Err(werr).Msg("record sync failure")
		}
		logger.Warn().Err(err).Msg("sync failed")
		return res
	}
	logger.Info().
		Int("fetched", res.Fetched).
		Int("upserted", res.Upserted).
		Time("since", res.Since).
		Int64("duration_ms", res.DurationMs).
		Msg("sync finished")
	return res
}

func (p *Poller) sync(ctx context.Context, inst *database.Instance, res *SyncResult) error {
	target, err := p.opts.Target(inst)
	if err != nil {
		return err
	}
	pool, err := p.conn.Acquire(ctx, target)
	if err != nil {
		return err
	}

	now := p.opts.Now().UTC()
	since, err := p.lowerBound(inst.ID, now)
	if err != nil {
		return err
	}
	res.Since = since

	remote, err := remotedb.FetchExecutions(ctx, pool, inst.TablePrefix, since)
	if err != nil {
		return err
	}
	res.Fetched = len(remote)

	n, err := database.UpsertExecutions(ctx, toCacheRows(inst.ID, remote), p.opts.BatchSize)
	res.Upserted = n
	if err != nil {
		return fmt.Errorf("upsert executions: %w", err)
	}

	if err := database.RecordSyncSuccess(ctx, inst.ID, now, n); err != nil {
		return fmt.Errorf("record sync status: %w", err)
	}
	return nil
}

func (p *Poller) lowerBound(instanceID string, now time.Time) (time.Time, error) {
	status, err := database.GetSyncStatus(instanceID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return now.Add(-p.opts.Backfill), nil
	case err != nil:
		return time.Time{}, fmt.Errorf("read sync status: %w", err)
	case status.LastSyncedAt == nil:
		return now.Add(-p.opts.Backfill), nil
	}
	return status.LastSyncedAt.UTC().Add(-SkewMargin), nil
}

// TriggerSync syncs one instance on demand. Concurrent calls for the same
// instance share a single sync and its result. An unknown id fails with
// database.ErrNotFound.
func (p *Poller) TriggerSync(ctx context.Context, id string) (SyncResult, error) {
	inst, err := database.GetInstance(id)
	if err != nil {
		return SyncResult{}, err
	}

	ch := p.manual.DoChan(id, func() (any, error) {
		// Detached so an impatient first caller does not fail the others.
		return p.PollInstance(context.Background(), inst), nil
	})
	select {
	case r := <-ch:
		res := r.Val.(SyncResult)
		return res, res.Err
	case <-ctx.Done():
		return SyncResult{InstanceID: id}, ctx.Err()
	}
}
