package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/23skdu/longbow-scout/internal/chat"
	"github.com/23skdu/longbow-scout/internal/server"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <engine>",
		Short: "Chat with a loaded engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engineID := args[0]
			srv := server.New(cfg)
			if err := ensureServer(ctx, srv); err != nil {
				return err
			}

			exists, err := srv.EngineExists(ctx, engineID)
			if err != nil {
				return err
			}
			if !exists {
				engines, lerr := srv.ListEngines(ctx)
				if lerr == nil && len(engines) > 0 {
					return fmt.Errorf("engine %q is not loaded; loaded engines: %s",
						engineID, strings.Join(engines, ", "))
				}
				return fmt.Errorf("engine %q is not loaded; run scout to set one up", engineID)
			}
			return chat.NewSession(srv, engineID, server.ChatOptionsFrom(cfg)).Run(ctx)
		},
	}
}
