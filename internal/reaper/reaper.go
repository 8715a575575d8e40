// Package reaper implements the Reaper: a single long-lived task that
// evicts stale sessions from the Active Peer Table on a fixed interval
// (spec §4.5).
package reaper

import (
	"log/slog"
	"time"

	"github.com/anton-mishchenko/p2p-tracker/internal/peertable"
)

const (
	// DefaultInterval is the spec's 60 s sweep period.
	DefaultInterval = 60 * time.Second
	// DefaultTimeout is the spec's 120 s inactivity eviction threshold.
	DefaultTimeout = 120 * time.Second
)

// Reaper periodically snapshots the Active Peer Table and removes any
// session whose last_active is older than Timeout.
type Reaper struct {
	table    *peertable.Table
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	now      func() time.Time
}

// Options configures a Reaper. Zero values fall back to the spec's
// defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New constructs a Reaper bound to table, not yet running.
func New(table *peertable.Table, opt Options) *Reaper {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Reaper{
		table:    table,
		logger:   opt.Logger,
		interval: opt.Interval,
		timeout:  opt.Timeout,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Run blocks, sweeping every Interval until Stop is called. A panic inside
// one sweep is recovered and logged so the loop survives it, per spec
// §4.5's "exceptions inside the loop must not terminate the task."
func (r *Reaper) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepSafely()
		case <-r.stopCh:
			return
		}
	}
}

// Stop ends the Reaper's loop. Safe to call at most once.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) sweepSafely() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reaper: recovered panic during sweep", "panic", p)
		}
	}()
	r.sweep()
}

func (r *Reaper) sweep() {
	now := r.now()
	for _, s := range r.table.List() {
		delta := now.Sub(time.Unix(s.LastActive, 0))
		if delta > r.timeout {
			r.table.RemoveByName(s.Name)
			r.logger.Info("reaper: evicted idle session", "name", s.Name, "idle_for", delta)
		}
	}
}
