package main

import (
	"fmt"

	"github.com/23skdu/longbow-scout/internal/cache"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the metadata cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cfg.CacheDir()
			if err != nil {
				return err
			}
			store, err := cache.New(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			stats := store.Stats()
			newPrinter().kv([][2]string{
				{"Directory", dir},
				{"Memory entries", fmt.Sprintf("%d", stats.MemoryEntries)},
				{"Disk entries", fmt.Sprintf("%d", stats.DiskEntries)},
				{"Disk size", formatFileSize(stats.DiskBytes)},
			})
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cfg.CacheDir()
			if err != nil {
				return err
			}
			store, err := cache.New(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	}
}
