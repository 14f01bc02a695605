package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/23skdu/longbow-scout/internal/server"
	"github.com/23skdu/longbow-scout/internal/tui"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the inference server",
	}
	cmd.AddCommand(
		newServerStartCmd(),
		newServerStopCmd(),
		newServerStatusCmd(),
		newServerUnloadCmd(),
		newServerLogsCmd(),
	)
	return cmd
}

func newServerStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the inference server and wait until it is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			srv := server.New(cfg)
			if srv.Healthy(ctx) {
				fmt.Println("Server is already running at", srv.BaseURL())
				return nil
			}
			if err := srv.StartServer(ctx); err != nil {
				return err
			}
			sp := tui.NewSpinner(os.Stdout, "Waiting for server")
			sp.Start()
			err := srv.WaitForReady(ctx, cfg.StartupTimeout())
			sp.Stop()
			if err != nil {
				return err
			}
			fmt.Println("Server is ready at", srv.BaseURL())
			return nil
		},
	}
}

func newServerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the inference server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			srv := server.New(cfg)
			if srv.Healthy(ctx) {
				if n, err := srv.CancelAllDownloads(ctx); err == nil && n > 0 {
					fmt.Printf("Cancelled %d active download(s).\n", n)
				}
			}
			if err := srv.StopServer(ctx); err != nil {
				return err
			}
			fmt.Println("Server stopped.")
			return nil
		},
	}
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health, loaded engines and active downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			srv := server.New(cfg)
			if !srv.Healthy(ctx) {
				fmt.Printf("Server at %s is not responding.\n", srv.BaseURL())
				return nil
			}
			fmt.Printf("Server at %s is healthy.\n", srv.BaseURL())

			engines, err := srv.ListEngines(ctx)
			if err != nil {
				return err
			}
			p := newPrinter()
			if len(engines) == 0 {
				fmt.Println("No engines loaded.")
			} else {
				fmt.Println()
				rows := make([][]string, len(engines))
				for i, id := range engines {
					status, message, err := srv.EngineStatus(ctx, id)
					if err != nil {
						status = "unknown"
						message = err.Error()
					}
					if message != "" {
						status += " (" + message + ")"
					}
					rows[i] = []string{id, status}
				}
				p.table([]string{"ENGINE", "STATUS"}, rows)
			}

			if downloads, err := srv.ListDownloads(ctx); err == nil && len(downloads) > 0 {
				fmt.Println("\nActive downloads:")
				rows := make([][]string, len(downloads))
				for i, d := range downloads {
					rows[i] = []string{d.ModelID, d.Status, fmt.Sprintf("%.1f%%", d.Percentage)}
				}
				p.table([]string{"MODEL", "STATUS", "PROGRESS"}, rows)
			}
			return nil
		},
	}
}

func newServerUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unload <engine>",
		Short: "Unregister an engine from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			engineID := args[0]
			if err := server.New(cfg).RemoveEngine(ctx, engineID); err != nil {
				return err
			}
			fmt.Printf("Engine %q removed.\n", engineID)
			return nil
		},
	}
}

func newServerLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print recent server logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out, err := server.New(cfg).Logs(ctx)
			if err != nil {
				return err
			}
			fmt.Print(out)
			if out != "" && !strings.HasSuffix(out, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
}
