// Package reconciler periodically compares the process table with the
// supervisor's running flag.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/darkware/zapretd/pkg/consts"
	"github.com/darkware/zapretd/pkg/logger"
)

// Poller runs one reconciliation pass.
type Poller interface {
	PollOnce(ctx context.Context) error
}

// Installer gates polling; nothing is probed on a host without engines.
type Installer interface {
	IsInstalled() bool
}

// Reconciler schedules Poller passes with cron. Passes never overlap.
type Reconciler struct {
	poller    Poller
	installer Installer
	interval  time.Duration
	timeout   time.Duration
	log       logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Reconciler polling every interval, each pass bounded by timeout.
func New(p Poller, inst Installer, interval, timeout time.Duration) *Reconciler {
	if interval <= 0 {
		interval = consts.DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = consts.DefaultProbeTimeout
	}
	return &Reconciler{
		poller:    p,
		installer: inst,
		interval:  interval,
		timeout:   timeout,
		log:       logger.Log.With("component", "reconciler"),
	}
}

// Start runs one pass immediately and then schedules the rest.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	schedule := fmt.Sprintf("@every %s", r.interval)
	if _, err := c.AddFunc(schedule, func() { _ = r.Tick(r.ctx) }); err != nil {
		r.cancel()
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	_ = r.Tick(r.ctx)
	c.Start()
	r.cron = c
	r.log.Info("Reconciler started", "interval", r.interval)
	return nil
}

// Stop unschedules polling and waits for a pass in progress.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	cancel := r.cancel
	r.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	r.log.Info("Reconciler stopped")
}

// Tick runs a single pass. It is a no-op when the engines are not installed.
func (r *Reconciler) Tick(ctx context.Context) error {
	if r.installer != nil && !r.installer.IsInstalled() {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.poller.PollOnce(pctx); err != nil {
		r.log.Debug("Reconcile pass failed", "err", err)
		return err
	}
	return nil
}

// cronLogger routes cron's own logging into ours.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(keysAndValues, "err", err)...)
}

// Personal.AI order the ending
