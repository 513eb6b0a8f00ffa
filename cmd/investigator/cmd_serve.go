package main

import (
	"context"

	"github.com/spf13/cobra"

	"investigator/internal/logging"
	mcpserver "investigator/internal/mcp"
	"investigator/internal/wiring"
)

func (a *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout. Agents call next_action, the
lead tools and the gate and gap tools directly with a case_dir argument.

The server exits when its parent process goes away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New("mcp")
			srv := mcpserver.NewServer(version, wiring.Options{
				ConfigPath: a.configPath,
				Logger:     log,
				Now:        a.now,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			mcpserver.WatchParent(ctx, log, cancel)

			log.Info("starting investigator MCP server over stdio (parent watchdog active)")
			return srv.Run(ctx)
		},
	}
}
