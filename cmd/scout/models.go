package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/23skdu/longbow-scout/internal/cache"
	"github.com/23skdu/longbow-scout/internal/gguf"
	"github.com/23skdu/longbow-scout/internal/hub"
	"github.com/23skdu/longbow-scout/internal/modelfile"
	"github.com/23skdu/longbow-scout/internal/ollama"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var (
		fromOllama  bool
		asJSON      bool
		estimate    bool
		contextSize int
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available to load",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if fromOllama {
				return listOllamaModels(ctx, asJSON, estimate, contextSize)
			}
			return listHubModels(ctx, asJSON)
		},
	}
	cmd.Flags().BoolVar(&fromOllama, "ollama", false, "list local ollama models instead of hub models")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "estimate memory per ollama model (scans local blobs)")
	cmd.Flags().IntVar(&contextSize, "context", modelfile.DefaultContextSize,
		"context length for memory estimates")
	return cmd
}

func listHubModels(ctx context.Context, asJSON bool) error {
	dir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store, err := cache.New(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	models, err := hub.New(cfg, store).SearchModels(ctx)
	if err != nil {
		return err
	}

	p := newPrinter()
	if asJSON {
		return p.json(models)
	}
	rows := make([][]string, len(models))
	for i, m := range models {
		rows[i] = []string{m.Name(), m.ID}
	}
	p.table([]string{"NAME", "ID"}, rows)
	return nil
}

func listOllamaModels(ctx context.Context, asJSON, estimate bool, contextSize int) error {
	oll := ollama.New(cfg)
	models, err := oll.ListLocalModels(ctx)
	if err != nil {
		return err
	}

	p := newPrinter()
	if asJSON {
		return p.json(models)
	}

	header := []string{"NAME", "SIZE", "FAMILY", "QUANT"}
	if estimate {
		header = append(header, "MEMORY")
	}
	reader := gguf.NewMetadataReader()
	rows := make([][]string, len(models))
	for i, m := range models {
		mf := ollama.ToModelFile(m)
		rows[i] = []string{m.Name, m.FormattedSize(), m.Details.Family, mf.Quant.Type}
		if !estimate {
			continue
		}
		mem := "-"
		if params, err := oll.LocalParams(reader, m.Name); err == nil {
			if usage := modelfile.EstimateFromParams(m.Size, params, contextSize); usage.HasEstimate {
				mem = usage.Display
			}
		}
		rows[i] = append(rows[i], mem)
	}
	p.table(header, rows)
	return nil
}

func newFilesCmd() *cobra.Command {
	var (
		estimate    bool
		asJSON      bool
		contextSize int
	)
	cmd := &cobra.Command{
		Use:   "files <model-id>",
		Short: "List the GGUF files of a hub model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return listModelFiles(ctx, args[0], estimate, asJSON, contextSize)
		},
	}
	cmd.Flags().BoolVar(&estimate, "estimate", false, "estimate memory per file (scans remote metadata)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.Flags().IntVar(&contextSize, "context", modelfile.DefaultContextSize,
		"context length for memory estimates")
	return cmd
}

// fileReport is the JSON shape of one listed model file.
type fileReport struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	Quant       string `json:"quantization"`
	DownloadURL string `json:"download_url"`
	Memory      string `json:"memory,omitempty"`
	TotalMB     uint64 `json:"memory_total_mb,omitempty"`
}

func listModelFiles(ctx context.Context, modelID string, estimate, asJSON bool, contextSize int) error {
	dir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store, err := cache.New(dir)
	if err != nil {
		return err
	}
	defer store.Close()
	h := hub.New(cfg, store)

	entries, err := h.ListModelFiles(ctx, modelID)
	if err != nil {
		return err
	}
	files := modelfile.FromHubListing(h, modelID, entries)

	if estimate {
		reader := gguf.NewMetadataReader()
		reader.FetchTimeout = cfg.ScanFetchTimeout()
		reader.Verbose = cfg.Scan.Verbose
		est := modelfile.NewEstimator(h, reader)
		for i := range files {
			files[i].Memory = est.EstimateMemory(ctx, files[i], contextSize)
		}
	}

	p := newPrinter()
	if asJSON {
		reports := make([]fileReport, len(files))
		for i, f := range files {
			reports[i] = fileReport{
				Name:        f.DisplayName(),
				Path:        f.Path,
				SizeBytes:   f.Size,
				Quant:       f.Quant.Type,
				DownloadURL: f.DownloadURL,
				Memory:      f.Memory.Display,
				TotalMB:     f.Memory.TotalMB,
			}
		}
		return p.json(reports)
	}

	header := []string{"FILE", "QUANT", "SIZE"}
	if estimate {
		header = append(header, "MEMORY")
	}
	rows := make([][]string, len(files))
	for i, f := range files {
		size := "-"
		if f.Size > 0 {
			size = formatFileSize(f.Size)
		}
		row := []string{f.DisplayName(), f.Quant.Type, size}
		if estimate {
			mem := "-"
			if f.Memory.HasEstimate {
				mem = f.Memory.Display
			}
			row = append(row, mem)
		}
		rows[i] = row
	}
	p.table(header, rows)
	return nil
}
