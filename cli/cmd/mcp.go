package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slush-dev/push-receiver/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes the push receiver as tools and resources
for LLM integration.

Tools:      start_notification_service, retry_register, is_registered
Resources:  push-receiver://status, push-receiver://notifications

With --sender-id set the service starts immediately. The server communicates
via JSON-RPC over stdin/stdout; logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := mcpserver.New(ctx, rootCmd.Version, slog.Default())
		ctrl, release, err := newController(s)
		if err != nil {
			return err
		}
		defer release()
		s.Bind(ctrl)

		if sid := config.GetString("sender-id"); sid != "" {
			go ctrl.Start(ctx, sid)
		}
		return s.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
