// Command scout discovers GGUF models on Hugging Face and local
// ollama stores, estimates their memory needs, and loads them into a
// running inference server for chat.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

var cfg config.Config

func main() {
	root := &cobra.Command{
		Use:   "scout [model]",
		Short: "Browse and load GGUF models",
		Long: `scout browses GGUF models from Hugging Face and local ollama
stores, estimates memory requirements before download, and registers
models with the inference server.

Run without arguments for the interactive browser, or pass a model ID,
Hugging Face URL, direct .gguf URL, local file path, or ollama://
reference to jump straight to it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initRuntime(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) > 0 {
				ref = args[0]
			}
			return runBrowse(ref)
		},
	}

	root.PersistentFlags().String("config", "", "path to config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console, json)")
	root.PersistentFlags().String("metrics", "", "address to serve Prometheus metrics on (e.g. :9090)")

	root.AddCommand(
		newInspectCmd(),
		newModelsCmd(),
		newFilesCmd(),
		newServerCmd(),
		newCacheCmd(),
		newChatCmd(),
		newPullCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initRuntime loads configuration, applies flag overrides and starts
// the optional metrics listener. It runs before every command.
func initRuntime(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		c.Log.Level = lvl
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		c.Log.Format = format
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logger.Setup(c.Log.Level, c.Log.Format)
	cfg = c

	if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("metrics listener failed")
			}
		}()
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scout version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("scout", version)
		},
	}
}
