package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve guideline tools over the Model Context Protocol on stdio",
	Long:  "Runs an MCP server on stdin/stdout. Logs go to stderr so the protocol stream stays clean.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, closeStore, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		return mcp.NewServer(e, logger, version).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
