package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darkware/zapretd/internal/control"
	"github.com/darkware/zapretd/internal/events"
	"github.com/darkware/zapretd/internal/installer"
	"github.com/darkware/zapretd/internal/monitor"
	"github.com/darkware/zapretd/internal/orchestrator"
	"github.com/darkware/zapretd/internal/probe"
	"github.com/darkware/zapretd/internal/reconciler"
	"github.com/darkware/zapretd/internal/store"
	"github.com/darkware/zapretd/internal/supervisor"
	"github.com/darkware/zapretd/internal/sysproxy"
	"github.com/darkware/zapretd/pkg/consts"
	"github.com/darkware/zapretd/pkg/logger"
	"github.com/darkware/zapretd/pkg/protocol"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var stopOnExit bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, stopOnExit)
		},
	}
	cmd.Flags().BoolVar(&stopOnExit, "stop-on-exit", true, "stop every engine and clear the system proxy on shutdown")
	return cmd
}

func runDaemon(parent context.Context, cfg protocol.Config, stopOnExit bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.InitLoggerWith(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	log := logger.Log.With("component", "daemon")

	sup := cfg.Supervisor
	controlTimeout := protocol.Duration(sup.ControlTimeout, consts.DefaultControlTimeout)
	probeTimeout := protocol.Duration(sup.ProbeTimeout, consts.DefaultProbeTimeout)

	metrics := monitor.InitMetrics(cfg.Observability.MetricsAddr)
	bus := events.New()
	detach := monitor.Attach(bus)
	defer detach()

	launcher := supervisor.New()
	inst := installer.New(launcher, cfg.Install.Dir, cfg.Install.SudoersFile,
		protocol.Duration(cfg.Install.Timeout, consts.DefaultInstallTimeout))

	var state orchestrator.Store = store.NewMemory()
	statePath := "memory"
	if cfg.StateFile != "" {
		f, err := store.Open(protocol.ExpandHome(cfg.StateFile))
		if err != nil {
			return err
		}
		state, statePath = f, f.Path()
	}

	engine := orchestrator.New(orchestrator.Options{
		Engines:        orchestrator.SpecsFromConfig(cfg.Engines),
		Installer:      inst,
		Store:          state,
		Launcher:       launcher,
		Prober:         probe.New(probeTimeout),
		Proxy:          sysproxy.New(launcher, cfg.Proxy.Networksetup, cfg.Proxy.Host, cfg.Proxy.Services),
		Bus:            bus,
		ControlTimeout: controlTimeout,
		ProbeTimeout:   probeTimeout,
		StopGrace:      protocol.Duration(sup.StopGrace, consts.DefaultStopGrace),
		SpawnSettle:    protocol.Duration(cfg.Engines.ByeDPI.Settle, consts.DefaultSpawnSettle),
	})

	log.Info("Booting zapretd", "installed", inst.IsInstalled(), "state", statePath)

	// The outcome consumer outlives the signal context so shutdown can still stop engines.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go engine.Run(runCtx)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := reconciler.New(engine, inst, protocol.Duration(sup.PollInterval, consts.DefaultPollInterval), probeTimeout)
	if err := rec.Start(ctx); err != nil {
		return err
	}

	srv := control.NewServer(cfg.Control.SocketPath, engine)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
		err = <-srvErr
	case err = <-srvErr:
		if err != nil {
			log.Error("Control server failed", "err", err)
		}
	}
	stop()
	rec.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 4*controlTimeout)
	defer cancel()
	if stopOnExit {
		if serr := engine.Shutdown(shutdownCtx); serr != nil {
			log.Error("Engine shutdown failed", "err", serr)
			err = errors.Join(err, serr)
		}
	}
	if merr := metrics.Shutdown(shutdownCtx); merr != nil {
		log.Warn("Metrics shutdown failed", "err", merr)
	}
	log.Info("zapretd stopped")
	return err
}

// Personal.AI order the ending
