package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/23skdu/longbow-scout/internal/ollama"
	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <name>",
		Short: "Pull a model through the local ollama daemon",
		Long: `pull asks the local ollama daemon to download a model into its
store. The pulled model then shows up in the browser and can be loaded
into the inference server without downloading it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			name := args[0]
			oll := ollama.New(cfg)
			if !oll.DaemonRunning(ctx) {
				return fmt.Errorf("ollama daemon at %s is not responding", cfg.Ollama.DaemonURL)
			}
			if err := oll.Pull(ctx, name, renderPullProgress(os.Stdout)); err != nil {
				fmt.Println()
				return err
			}
			fmt.Printf("Pulled %s.\n", name)
			return nil
		},
	}
}

// renderPullProgress prints one line per status change and keeps a bar
// redrawing in place while a layer is transferring.
func renderPullProgress(w io.Writer) func(ollama.PullProgress) {
	var lastStatus string
	var barActive bool
	return func(p ollama.PullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "\r%s %.1f%% (%s/%s)   ", progressBar(p.Percent(), 40),
				p.Percent(), formatFileSize(p.Completed), formatFileSize(p.Total))
			barActive = true
			return
		}
		if p.Status == "" || p.Status == lastStatus {
			return
		}
		if barActive {
			fmt.Fprintln(w)
			barActive = false
		}
		fmt.Fprintln(w, p.Status)
		lastStatus = p.Status
	}
}
