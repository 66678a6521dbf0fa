package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/darkware/zapretd/pkg/consts"
	"github.com/darkware/zapretd/pkg/protocol"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	cfgFile  string
	socket   string
	logLevel string
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "zapretd",
		Short:         "zapretd: DPI-bypass engine supervisor (zapret tpws / byedpi)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "zapretd.yaml", "config file path")
	root.PersistentFlags().StringVar(&g.socket, "socket", "", "control socket path (default from config, "+consts.DefaultSocketPath+")")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newToggleCmd(g),
		newEngineCmd(g),
		newStrategyCmd(g),
		newPollCmd(g),
		newPresetsCmd(),
		newRenderCmd(),
		newInstallCmd(g),
		newUninstallCmd(g),
	)
	return root
}

// config loads the YAML config and applies flag overrides.
func (g *globalFlags) config() (protocol.Config, error) {
	cfg, err := protocol.Load(g.cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if g.socket != "" {
		cfg.Control.SocketPath = g.socket
	}
	if g.logLevel != "" {
		cfg.Observability.LogLevel = g.logLevel
	}
	return cfg, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
