// Package orchestrator is the engine supervisor: it owns the desired and
// observed engine state, runs start/stop/switch/restart transactions one at a
// time, and publishes the resulting status.
//
// Transactions run on worker goroutines and hand a typed outcome back to the
// single consumer in Run, which is the only place published state changes.
// Control transactions cannot be cancelled once admitted; each external
// command is bounded by the control timeout instead.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/darkware/zapretd/internal/events"
	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/internal/supervisor"
	"github.com/darkware/zapretd/pkg/consts"
	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/fsm"
	"github.com/darkware/zapretd/pkg/logger"
)

// FSM events.
const (
	evStart   fsm.Event = "start"
	evStop    fsm.Event = "stop"
	evSwitch  fsm.Event = "switch"
	evRestart fsm.Event = "restart"
	evUp      fsm.Event = "up"   // transaction left the engine running
	evDown    fsm.Event = "down" // transaction left nothing running
	evDrift   fsm.Event = "drift"
)

// Supervisor is the engine lifecycle state machine.
type Supervisor struct {
	opts Options
	log  logger.Logger
	fsm  *fsm.StateMachine

	mu       sync.Mutex
	desired  DesiredState
	observed ObservedState
	busy     bool
	lastErr  error
	txErr    error
	inflight chan struct{} // closed when the current transaction is applied
	gen      uint64        // bumped on every admitted or applied transaction
	// proxyKnown is false until a transaction has run since boot. Before
	// that the system proxy may still point at an engine a previous daemon
	// left behind.
	proxyKnown bool

	handlesMu sync.Mutex
	handles   map[preset.Engine]supervisor.Handle

	results chan outcome
	closed  chan struct{}
	runOnce sync.Once
}

// outcome is what a worker reports back to Run.
type outcome struct {
	op      string
	running bool
	warn    error // recorded in LastError, transaction still counts as done
	err     error // transaction failed
	elapsed time.Duration

	obs    *ObservedState // reconciliation pass instead of a transaction
	obsGen uint64
	ack    chan struct{}
}

// New creates a Supervisor. DesiredState is loaded from opts.Store.
func New(opts Options) *Supervisor {
	opts.setDefaults()
	if opts.WriteFile == nil {
		opts.WriteFile = func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		}
	}

	s := &Supervisor{
		opts:     opts,
		log:      logger.Log.With("component", "orchestrator"),
		fsm:      fsm.New(fsm.State(consts.PhaseIdle)),
		handles:  make(map[preset.Engine]supervisor.Handle),
		results:  make(chan outcome),
		closed:   make(chan struct{}),
		inflight: closedChan(),
		observed: ObservedState{Alive: map[preset.Engine]bool{}},
	}
	s.desired = loadDesired(opts.Store)
	s.setupFSM()
	return s
}

func (s *Supervisor) setupFSM() {
	idle := fsm.State(consts.PhaseIdle)
	running := fsm.State(consts.PhaseRunning)
	busy := []fsm.State{
		fsm.State(consts.PhaseStarting),
		fsm.State(consts.PhaseStopping),
		fsm.State(consts.PhaseSwitching),
		fsm.State(consts.PhaseRestarting),
	}

	s.fsm.AddTransition(idle, fsm.State(consts.PhaseStarting), evStart, nil)
	s.fsm.AddTransition(running, fsm.State(consts.PhaseStopping), evStop, nil)
	s.fsm.AddTransition(running, fsm.State(consts.PhaseSwitching), evSwitch, nil)
	s.fsm.AddTransition(running, fsm.State(consts.PhaseRestarting), evRestart, nil)

	for _, b := range busy {
		s.fsm.AddTransition(b, running, evUp, nil)
		s.fsm.AddTransition(b, idle, evDown, nil)
	}

	// Reconciliation corrections.
	s.fsm.AddTransition(running, idle, evDrift, nil)
	s.fsm.AddTransition(idle, running, evDrift, nil)

	s.fsm.OnTransition(func(from, to fsm.State, ev fsm.Event) {
		s.log.Debug("Phase transition", "from", from, "to", to, "event", ev)
	})
}

func loadDesired(st Store) DesiredState {
	d := DesiredState{
		Engine:     preset.TransparentProxy,
		Strategies: make(map[preset.Engine]preset.StrategyID),
	}
	for _, e := range preset.Engines() {
		d.Strategies[e] = preset.Default(e)
	}
	if st == nil {
		return d
	}
	if v, ok := st.GetString(consts.KeyEngine); ok {
		if e, err := preset.ParseEngine(v); err == nil {
			d.Engine = e
		}
	}
	for _, e := range preset.Engines() {
		if v, ok := st.GetString(consts.KeyStrategyPrefix + string(e)); ok {
			if _, found := preset.Find(e, preset.StrategyID(v)); found {
				d.Strategies[e] = preset.StrategyID(v)
			}
		}
	}
	return d
}

// Run consumes worker outcomes until ctx is done. It must be running for any
// transaction or reconciliation pass to complete.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.runOnce.Do(func() { close(s.closed) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-s.results:
			if o.obs != nil {
				s.applyObservation(o)
			} else {
				s.applyOutcome(o)
			}
		}
	}
}

// Status returns the current snapshot. It never blocks on a transaction.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() Status {
	alive := make(map[preset.Engine]bool, len(s.observed.Alive))
	for e, v := range s.observed.Alive {
		alive[e] = v
	}
	st := Status{
		IsRunning: s.desired.Running,
		IsBusy:    s.busy,
		Engine:    s.desired.Engine,
		Strategy:  s.desired.Strategy(),
		Phase:     consts.Phase(s.fsm.Current()),
		Observed:  ObservedState{Alive: alive, At: s.observed.At},
	}
	if s.lastErr != nil {
		st.LastError = zerr.Short(s.lastErr)
	}
	if s.opts.Installer != nil {
		st.Installed = s.opts.Installer.IsInstalled()
	}
	if s.opts.Proxy != nil {
		if on, port := s.opts.Proxy.Enabled(); on {
			st.ProxyPort = port
		}
	}
	return st
}

// Wait blocks until no transaction is in flight and returns the error of the
// most recent one.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.inflight
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txErr
}

// Toggle starts the selected engine when idle, or stops every engine when running.
// Completion is observed through Status or Wait.
func (s *Supervisor) Toggle() error {
	const op = "Toggle"

	s.mu.Lock()
	if err := s.admitLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	engine := s.desired.Engine
	strat := preset.Lookup(engine, s.desired.Strategy())
	wasRunning := s.desired.Running
	if wasRunning {
		s.fireLocked(evStop)
	} else {
		s.fireLocked(evStart)
	}
	s.mu.Unlock()
	s.publishStatus()

	if wasRunning {
		s.log.Info("Stopping engines", "selected", engine)
		go s.execute("stop", func(ctx context.Context) outcome {
			return outcome{running: false, warn: s.stopAll(ctx)}
		})
		return nil
	}

	s.log.Info("Starting engine", "engine", engine, "strategy", strat.ID)
	go s.execute("start", func(ctx context.Context) outcome {
		warn, err := s.start(ctx, strat)
		return outcome{running: err == nil, warn: warn, err: err}
	})
	return nil
}

// SetEngine selects engine. While running this switches: stop-all, confirm
// every engine is gone, then start engine with its remembered strategy.
func (s *Supervisor) SetEngine(engine preset.Engine) error {
	const op = "SetEngine"

	engine, err := preset.ParseEngine(string(engine))
	if err != nil {
		return zerr.New(zerr.ErrCodeInvalidIntent, op, err.Error(), nil)
	}

	s.mu.Lock()
	if err := s.installedLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.desired.Engine == engine {
		s.noopLocked()
		s.mu.Unlock()
		return nil
	}
	if err := s.admitLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.desired.Engine
	s.desired.Engine = engine
	strat := preset.Lookup(engine, s.desired.Strategy())
	running := s.desired.Running
	if running {
		s.fireLocked(evSwitch)
	}
	s.mu.Unlock()
	s.publishStatus()

	if !running {
		go s.execute("select-engine", func(ctx context.Context) outcome {
			return outcome{running: false, warn: s.persist(consts.KeyEngine, string(engine))}
		})
		return nil
	}

	s.log.Info("Switching engine", "from", prev, "to", engine, "strategy", strat.ID)
	go s.execute("switch", func(ctx context.Context) outcome {
		var warns []error
		warns = append(warns, s.stopAll(ctx))
		if err := s.confirmDead(ctx, preset.Engines()...); err != nil {
			return outcome{running: false, warn: joinErrs(warns...), err: err}
		}
		warns = append(warns, s.persist(consts.KeyEngine, string(engine)))
		warn, err := s.start(ctx, strat)
		warns = append(warns, warn)
		return outcome{running: err == nil, warn: joinErrs(warns...), err: err}
	})
	return nil
}

// SetStrategy remembers id for engine. When engine is the running engine it is
// restarted with the new preset; when idle only the choice and config file change.
func (s *Supervisor) SetStrategy(engine preset.Engine, id preset.StrategyID) error {
	const op = "SetStrategy"

	if e, err := preset.ParseEngine(string(engine)); err == nil {
		engine = e
	}
	strat, ok := preset.Find(engine, id)
	if !ok {
		return zerr.New(zerr.ErrCodeInvalidIntent, op, fmt.Sprintf("no strategy %q for engine %q", id, engine), nil)
	}

	s.mu.Lock()
	if err := s.installedLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.desired.Strategies[engine] == id {
		s.noopLocked()
		s.mu.Unlock()
		return nil
	}
	if err := s.admitLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	s.desired.Strategies[engine] = id
	active := s.desired.Running && s.desired.Engine == engine
	if active {
		s.fireLocked(evRestart)
	}
	s.mu.Unlock()
	s.publishStatus()

	key := consts.KeyStrategyPrefix + string(engine)
	if !active {
		go s.execute("select-strategy", func(ctx context.Context) outcome {
			warns := []error{s.persist(key, string(id))}
			if _, isConfig := strat.Start.(preset.ConfigFileThenCommand); isConfig {
				warns = append(warns, s.writeConfig(strat))
			}
			s.mu.Lock()
			running := s.desired.Running
			s.mu.Unlock()
			return outcome{running: running, warn: joinErrs(warns...)}
		})
		return nil
	}

	s.log.Info("Restarting engine for new strategy", "engine", engine, "strategy", id)
	go s.execute("restart", func(ctx context.Context) outcome {
		persistWarn := s.persist(key, string(id))
		warn, err := s.restart(ctx, strat)
		return outcome{running: err == nil, warn: joinErrs(persistWarn, warn), err: err}
	})
	return nil
}

// PollOnce reads the process table and reconciles the running flag with it.
// A probe failure leaves everything unchanged and is returned.
func (s *Supervisor) PollOnce(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	patterns := make(map[string]string)
	for _, e := range preset.Engines() {
		if p := s.opts.Engines[e].ProbePattern; p != "" {
			patterns[string(e)] = p
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	res, err := s.opts.Prober.Snapshot(pctx, patterns)
	cancel()
	if err != nil {
		s.log.Warn("Reconcile: probe unavailable, keeping state", "err", err)
		s.publish(events.ProbeFailedEvent{Err: err.Error()})
		return err
	}

	obs := ObservedState{Alive: make(map[preset.Engine]bool, len(res)), At: time.Now()}
	for _, e := range preset.Engines() {
		obs.Alive[e] = res[string(e)]
	}

	o := outcome{op: "reconcile", obs: &obs, obsGen: gen, ack: make(chan struct{})}
	select {
	case s.results <- o:
	case <-s.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every engine if the supervisor is running and waits for it.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if err := s.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	if !s.Status().IsRunning {
		return nil
	}
	if err := s.Toggle(); err != nil {
		return err
	}
	return s.Wait(ctx)
}

func (s *Supervisor) admitLocked(op string) error {
	if err := s.installedLocked(op); err != nil {
		return err
	}
	if s.busy {
		return zerr.New(zerr.ErrCodeBusy, op, "another operation is in progress", nil)
	}
	s.beginLocked()
	return nil
}

func (s *Supervisor) installedLocked(op string) error {
	if s.opts.Installer != nil && !s.opts.Installer.IsInstalled() {
		return zerr.New(zerr.ErrCodeNotInstalled, op, "engines are not installed", nil)
	}
	return nil
}

// beginLocked marks a transaction in flight. Callers check busy first.
func (s *Supervisor) beginLocked() {
	s.busy = true
	s.gen++
	s.inflight = make(chan struct{})
	s.proxyKnown = true
}

// noopLocked settles an intent that changes nothing. Wait must not report
// the error of an earlier transaction for it.
func (s *Supervisor) noopLocked() {
	if !s.busy {
		s.txErr = nil
	}
}

func (s *Supervisor) fireLocked(ev fsm.Event) {
	if err := s.fsm.Fire(ev); err != nil {
		s.log.Error("Invalid phase transition", "event", ev, "err", err)
	}
}

// execute runs fn off the state-owning goroutine and hands the outcome to Run.
func (s *Supervisor) execute(op string, fn func(ctx context.Context) outcome) {
	start := time.Now()
	o := fn(context.Background())
	o.op = op
	o.elapsed = time.Since(start)

	select {
	case s.results <- o:
	case <-s.closed:
		s.log.Warn("Supervisor stopped before outcome was applied", "op", op)
	}
}

func (s *Supervisor) applyOutcome(o outcome) {
	s.mu.Lock()
	s.desired.Running = o.running
	switch {
	case o.err != nil:
		s.lastErr = o.err
	case o.warn != nil:
		s.lastErr = o.warn
	default:
		s.lastErr = nil
	}
	s.txErr = o.err

	target := evDown
	if o.running {
		target = evUp
	}
	if s.fsm.Can(target) {
		s.fireLocked(target)
	}

	s.busy = false
	s.gen++
	close(s.inflight)
	engine := s.desired.Engine
	strategy := s.desired.Strategy()
	s.mu.Unlock()

	if o.err != nil {
		s.log.Error("Transaction failed", "op", o.op, "engine", engine, "err", o.err, "elapsed", o.elapsed)
	} else if o.warn != nil {
		s.log.Warn("Transaction completed with warnings", "op", o.op, "engine", engine, "warn", o.warn)
	} else {
		s.log.Info("Transaction completed", "op", o.op, "engine", engine, "running", o.running, "elapsed", o.elapsed)
	}

	tx := events.TransactionEvent{
		Op:       o.op,
		Engine:   string(engine),
		Strategy: string(strategy),
		OK:       o.err == nil,
		Duration: o.elapsed,
	}
	if o.err != nil {
		tx.Err = o.err.Error()
	}
	s.publish(tx)
	s.publishStatus()
}

func (s *Supervisor) applyObservation(o outcome) {
	defer close(o.ack)

	s.mu.Lock()
	s.observed = *o.obs
	engine := s.desired.Engine
	alive := o.obs.Alive[engine]
	was := s.desired.Running

	// Only correct from a settled state with no transaction since the probe began.
	settled := !s.busy && o.obsGen == s.gen &&
		s.fsm.Is(fsm.State(consts.PhaseIdle), fsm.State(consts.PhaseRunning))
	if !settled {
		s.mu.Unlock()
		s.publishStatus()
		return
	}

	var (
		op    string
		fix   func(ctx context.Context) outcome
		drift = alive != was
	)
	if drift {
		s.desired.Running = alive
		s.fireLocked(evDrift)
		port, ownsProxy := preset.RequiresProxy(preset.Lookup(engine, s.desired.Strategy()))
		switch {
		case was && !alive && ownsProxy:
			op = "proxy-cleanup"
			fix = func(ctx context.Context) outcome {
				s.forgetHandle(engine)
				return outcome{running: false, warn: s.disableProxy(ctx)}
			}
		case !was && alive && ownsProxy:
			op = "proxy-adopt"
			fix = func(ctx context.Context) outcome {
				return outcome{running: true, warn: s.enableProxy(ctx, port)}
			}
		}
	}
	if fix == nil && !s.proxyKnown && !s.proxyInUseLocked(o.obs.Alive) {
		running := s.desired.Running
		op = "proxy-sweep"
		fix = func(ctx context.Context) outcome {
			return outcome{running: running, warn: s.disableProxy(ctx)}
		}
	}
	if fix != nil {
		s.beginLocked()
	}
	s.mu.Unlock()

	if drift {
		s.log.Warn("Reconcile: engine state drifted", "engine", engine, "was_running", was, "alive", alive)
		s.publish(events.DriftEvent{Engine: string(engine), WasRunning: was, Alive: alive})
	}
	s.publishStatus()
	if fix != nil {
		s.log.Info("Reconcile: correcting system proxy", "op", op, "engine", engine)
		go s.execute(op, fix)
	}
}

// proxyInUseLocked reports whether a live engine needs the system proxy with
// its remembered strategy.
func (s *Supervisor) proxyInUseLocked(alive map[preset.Engine]bool) bool {
	for _, e := range preset.Engines() {
		if !alive[e] {
			continue
		}
		if _, ok := preset.RequiresProxy(preset.Lookup(e, s.desired.Strategies[e])); ok {
			return true
		}
	}
	return false
}

func (s *Supervisor) persist(key, value string) error {
	if s.opts.Store == nil {
		return nil
	}
	if err := s.opts.Store.SetString(key, value); err != nil {
		return zerr.New(zerr.ErrCodeUnknown, "Persist", "cannot save "+key, err)
	}
	return nil
}

func (s *Supervisor) publishStatus() {
	if s.opts.Bus == nil {
		return
	}
	st := s.Status()
	observed := make(map[string]bool, len(st.Observed.Alive))
	for e, v := range st.Observed.Alive {
		observed[string(e)] = v
	}
	s.opts.Bus.Publish(events.StatusChangedEvent{
		Running:   st.IsRunning,
		Busy:      st.IsBusy,
		Phase:     string(st.Phase),
		Engine:    string(st.Engine),
		Strategy:  string(st.Strategy),
		LastError: st.LastError,
		Observed:  observed,
		Timestamp: time.Now(),
	})
}

func (s *Supervisor) publish(ev events.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ev)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Personal.AI order the ending
