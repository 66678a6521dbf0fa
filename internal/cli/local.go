package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darkware/zapretd/internal/installer"
	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/internal/supervisor"
	"github.com/darkware/zapretd/pkg/consts"
	"github.com/darkware/zapretd/pkg/logger"
	"github.com/darkware/zapretd/pkg/protocol"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [engine]",
		Short: "List the strategy catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engines := preset.Engines()
			if len(args) == 1 {
				e, err := preset.ParseEngine(args[0])
				if err != nil {
					return err
				}
				engines = []preset.Engine{e}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENGINE\tSTRATEGY\tLABEL\tPARAMETERS")
			for _, e := range engines {
				def := preset.Default(e)
				for _, s := range preset.Strategies(e) {
					label := s.Label
					if s.ID == def {
						label += " *"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e, s.ID, label, preset.Describe(s))
				}
			}
			return tw.Flush()
		},
	}
}

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <engine> <strategy>",
		Short: "Print the config file or command line a strategy launches with",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := preset.ParseEngine(args[0])
			if err != nil {
				return err
			}
			s, ok := preset.Find(e, preset.StrategyID(args[1]))
			if !ok {
				return fmt.Errorf("no strategy %q for engine %q", args[1], e)
			}
			if body := preset.RenderConfig(s); body != "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), preset.Describe(s))
			return err
		},
	}
}

func newInstallCmd(g *globalFlags) *cobra.Command {
	var resources string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the bundled engines (asks for an administrator password)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, cfg, err := g.installer()
			if err != nil {
				return err
			}
			if inst.IsInstalled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Already installed in %s\n", cfg.Install.Dir)
				return nil
			}
			if err := inst.Install(ctxOf(cmd), resources); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed in %s\n", cfg.Install.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&resources, "resources", ".", "directory holding zapret/ and "+consts.InstallScriptName)
	return cmd
}

func newUninstallCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed engines (asks for an administrator password)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, cfg, err := g.installer()
			if err != nil {
				return err
			}
			if err := inst.Uninstall(ctxOf(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", cfg.Install.Dir)
			return nil
		},
	}
}

func (g *globalFlags) installer() (*installer.Installer, protocol.Config, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, cfg, err
	}
	logger.InitLoggerWith(cfg.Observability.LogLevel, "text", os.Stderr)
	inst := installer.New(supervisor.New(), cfg.Install.Dir, cfg.Install.SudoersFile,
		protocol.Duration(cfg.Install.Timeout, consts.DefaultInstallTimeout))
	return inst, cfg, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Personal.AI order the ending
