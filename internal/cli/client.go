package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkware/zapretd/internal/control"
	"github.com/darkware/zapretd/pkg/protocol"
)

const (
	requestTimeout = 5 * time.Second
	// waitTimeout bounds a client waiting on a compound transaction.
	waitTimeout = 2 * time.Minute
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.call(cmd.Context(), protocol.Request{Op: protocol.OpStatus})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Status)
			}
			printStatus(cmd.OutOrStdout(), resp.Status)
			return control.Err(resp)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func newToggleCmd(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Start the selected engine, or stop every engine when running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.intent(cmd, protocol.Request{Op: protocol.OpToggle, Wait: wait})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the transaction to finish")
	return cmd
}

func newEngineCmd(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "engine <tpws|byedpi>",
		Short: "Select the engine; switches over when running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.intent(cmd, protocol.Request{Op: protocol.OpEngine, Engine: args[0], Wait: wait})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the transaction to finish")
	return cmd
}

func newStrategyCmd(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "strategy [engine] <strategy>",
		Short: "Select a strategy; restarts the engine when it is running",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.Request{Op: protocol.OpStrategy, Wait: wait}
			if len(args) == 2 {
				req.Engine, req.Strategy = args[0], args[1]
			} else {
				req.Strategy = args[0]
			}
			return g.intent(cmd, req)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the transaction to finish")
	return cmd
}

func newPollCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Reconcile with the process table now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.intent(cmd, protocol.Request{Op: protocol.OpPoll})
		},
	}
}

// intent sends req and prints the resulting status.
func (g *globalFlags) intent(cmd *cobra.Command, req protocol.Request) error {
	resp, err := g.call(cmd.Context(), req)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), resp.Status)
	return control.Err(resp)
}

func (g *globalFlags) call(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := requestTimeout
	if req.Wait {
		timeout = waitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return control.Dial(cfg.Control.SocketPath).Do(ctx, req)
}

func printStatus(w io.Writer, st *protocol.StatusView) {
	if st == nil {
		return
	}
	state := "stopped"
	if st.Running {
		state = "running"
	}
	if st.Busy {
		state += " (busy)"
	}
	fmt.Fprintf(w, "Engine:    %s\n", st.EngineLabel)
	fmt.Fprintf(w, "Strategy:  %s\n", st.StrategyLabel)
	fmt.Fprintf(w, "State:     %s [%s]\n", state, st.Phase)
	if st.ProxyPort != 0 {
		fmt.Fprintf(w, "Proxy:     SOCKS on port %d\n", st.ProxyPort)
	}
	if !st.Installed {
		fmt.Fprintln(w, "Installed: no (run `zapretd install`)")
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", st.LastError)
	}
}

// Personal.AI order the ending
