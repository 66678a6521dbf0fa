package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/internal/supervisor"
	zerr "github.com/darkware/zapretd/pkg/errors"
)

// start brings up strat's engine. warn carries non-fatal problems (proxy
// sweep failures); err means the engine is not running.
func (s *Supervisor) start(ctx context.Context, strat preset.Strategy) (warn, err error) {
	const op = "Start"
	spec := s.opts.Engines[strat.Engine]

	switch st := strat.Start.(type) {
	case preset.ConfigFileThenCommand:
		if err := s.writeConfig(strat); err != nil {
			return nil, err
		}
		return nil, s.runChecked(ctx, op, spec.StartCommand)

	case preset.DirectSpawn:
		if err := s.spawn(ctx, strat.Engine, spec, st); err != nil {
			return nil, err
		}
		if st.ProxyPort > 0 {
			return s.enableProxy(ctx, st.ProxyPort), nil
		}
		return nil, nil
	}
	panic(fmt.Sprintf("orchestrator: unhandled start spec %T", strat.Start))
}

// restart applies strat to its already running engine.
func (s *Supervisor) restart(ctx context.Context, strat preset.Strategy) (warn, err error) {
	const op = "Restart"
	spec := s.opts.Engines[strat.Engine]

	switch st := strat.Start.(type) {
	case preset.ConfigFileThenCommand:
		if err := s.writeConfig(strat); err != nil {
			return nil, err
		}
		return nil, s.runChecked(ctx, op, spec.RestartCommand)

	case preset.DirectSpawn:
		warns := []error{s.stopEngine(ctx, strat.Engine)}
		if err := s.confirmDead(ctx, strat.Engine); err != nil {
			warns = append(warns, s.disableProxy(ctx))
			return joinErrs(warns...), err
		}
		if err := s.spawn(ctx, strat.Engine, spec, st); err != nil {
			// Nothing listens on the proxy port any more.
			warns = append(warns, s.disableProxy(ctx))
			return joinErrs(warns...), err
		}
		if st.ProxyPort > 0 {
			warns = append(warns, s.enableProxy(ctx, st.ProxyPort))
		}
		return joinErrs(warns...), nil
	}
	panic(fmt.Sprintf("orchestrator: unhandled start spec %T", strat.Start))
}

// stopAll stops every known engine regardless of which one is selected, then
// disables the system proxy exactly once. Failures are collected and returned
// but never abort the sweep: a stop must always complete.
func (s *Supervisor) stopAll(ctx context.Context) error {
	var result *multierror.Error
	for _, e := range preset.Engines() {
		if err := s.stopEngine(ctx, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.disableProxy(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return oneLine(result)
}

// stopEngine terminates a held handle for e and runs e's stop command.
func (s *Supervisor) stopEngine(ctx context.Context, e preset.Engine) error {
	const op = "Stop"
	spec := s.opts.Engines[e]

	var result *multierror.Error
	if h := s.takeHandle(e); h != nil {
		if err := h.Stop(s.opts.StopGrace); err != nil {
			result = multierror.Append(result, zerr.New(zerr.ErrCodeCommandFailed, op, "cannot stop "+string(e), err))
		}
	}

	if spec.StopCommand != "" {
		cctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
		code, out, err := s.opts.Launcher.Run(cctx, spec.StopCommand)
		cancel()
		switch {
		case err != nil:
			result = multierror.Append(result, err)
		case code != 0 && !slices.Contains(spec.StopExitOK, code):
			result = multierror.Append(result, commandFailed(op, spec.StopCommand, code, out))
		}
	}
	return oneLine(result)
}

// confirmDead polls the probe until none of engines is alive, bounded by the
// control timeout.
func (s *Supervisor) confirmDead(ctx context.Context, engines ...preset.Engine) error {
	const op = "ConfirmStopped"

	patterns := make(map[string]string)
	for _, e := range engines {
		if p := s.opts.Engines[e].ProbePattern; p != "" {
			patterns[string(e)] = p
		}
	}
	if len(patterns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
	defer cancel()

	for {
		pctx, pcancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
		alive, err := s.opts.Prober.Snapshot(pctx, patterns)
		pcancel()
		if err != nil {
			return err
		}

		var still []string
		for name, up := range alive {
			if up {
				still = append(still, name)
			}
		}
		if len(still) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			slices.Sort(still)
			return zerr.New(zerr.ErrCodeTimeout, op,
				"still alive after stop: "+strings.Join(still, ", "), ctx.Err())
		case <-time.After(s.opts.ConfirmPoll):
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context, e preset.Engine, spec EngineSpec, st preset.DirectSpawn) error {
	const op = "Spawn"

	sctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
	defer cancel()

	sink := supervisor.NewLogSink(s.log.With("engine", string(e)))
	h, err := s.opts.Launcher.Spawn(sctx, spec.Binary, st.Args, sink)
	if err != nil {
		return err
	}

	if s.opts.SpawnSettle > 0 {
		select {
		case <-h.Done():
			return zerr.New(zerr.ErrCodeLaunchFailed, op,
				fmt.Sprintf("%s exited right after start", spec.Binary), h.ExitErr())
		case <-time.After(s.opts.SpawnSettle):
		}
	}

	s.handlesMu.Lock()
	s.handles[e] = h
	s.handlesMu.Unlock()
	s.log.Info("Engine spawned", "engine", e, "pid", h.Pid(), "args", st.Args)
	return nil
}

func (s *Supervisor) writeConfig(strat preset.Strategy) error {
	path := s.opts.Engines[strat.Engine].ConfigPath
	if err := s.opts.WriteFile(path, []byte(preset.RenderConfig(strat))); err != nil {
		return zerr.New(zerr.ErrCodeLaunchFailed, "WriteConfig", "cannot write "+path, err)
	}
	s.log.Debug("Engine config written", "path", path, "strategy", strat.ID)
	return nil
}

func (s *Supervisor) enableProxy(ctx context.Context, port int) error {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
	defer cancel()
	return s.opts.Proxy.Enable(cctx, port)
}

func (s *Supervisor) disableProxy(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
	defer cancel()
	return s.opts.Proxy.Disable(cctx)
}

// runChecked runs command and turns a non-zero exit into CommandFailed.
func (s *Supervisor) runChecked(ctx context.Context, op, command string) error {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ControlTimeout)
	defer cancel()

	code, out, err := s.opts.Launcher.Run(cctx, command)
	if err != nil {
		return err
	}
	if code != 0 {
		return commandFailed(op, command, code, out)
	}
	return nil
}

func (s *Supervisor) takeHandle(e preset.Engine) supervisor.Handle {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	h := s.handles[e]
	delete(s.handles, e)
	return h
}

func (s *Supervisor) forgetHandle(e preset.Engine) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	delete(s.handles, e)
}

func commandFailed(op, command string, code int, out string) error {
	out = strings.TrimSpace(out)
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	msg := fmt.Sprintf("%q exited with %d", command, code)
	if out != "" {
		msg += ": " + out
	}
	return zerr.New(zerr.ErrCodeCommandFailed, op, msg, nil)
}

func joinErrs(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return oneLine(result)
}

func oneLine(result *multierror.Error) error {
	if result == nil {
		return nil
	}
	result.ErrorFormat = zerr.OneLine
	return result.ErrorOrNil()
}

// Personal.AI order the ending
