package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firewatch/firewatch/internal/mcpserver"
	"github.com/firewatch/firewatch/internal/tracing"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve Firewatch tools over the Model Context Protocol",
	Long: `Mcp exposes the firewatch commands as MCP tools. By default it
serves SSE (/sse) and Streamable HTTP (/mcp) on one port; --stdio runs
over stdin/stdout for agent embedding. While serving, a background
poller keeps the configured repos fresh when auto_sync is on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()
		defer tracing.Shutdown(cmd.Context())

		port, _ := cmd.Flags().GetInt("port")
		stdio, _ := cmd.Flags().GetBool("stdio")

		srv := mcpserver.New(mcpserver.Config{Port: port}, c.app, c.log)

		if stdio {
			return srv.ServeStdio(cmd.Context())
		}

		if err := srv.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "firewatch MCP server on port %d (/sse, /mcp)\n", srv.Port())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		return srv.Stop(cmd.Context())
	},
}

func init() {
	mcpCmd.Flags().Int("port", 4977, "port to listen on (0 picks a free port)")
	mcpCmd.Flags().Bool("stdio", false, "serve over stdin/stdout instead of HTTP")
	rootCmd.AddCommand(mcpCmd)
}
