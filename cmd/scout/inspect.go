package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/23skdu/longbow-scout/internal/gguf"
	"github.com/23skdu/longbow-scout/internal/modelfile"
	"github.com/23skdu/longbow-scout/internal/ollama"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var (
		verbose     bool
		asJSON      bool
		contextSize int
	)
	cmd := &cobra.Command{
		Use:   "inspect <model>",
		Short: "Scan a GGUF file's metadata and estimate its memory needs",
		Long: `inspect reads just the metadata section of a GGUF file (a local
path, a direct URL, or an ollama:// reference) and reports the
architecture fields plus a memory estimate. Remote files are scanned
with ranged reads, so only a few kilobytes are fetched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], verbose, asJSON, contextSize)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "dump every metadata entry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.Flags().IntVar(&contextSize, "context", modelfile.DefaultContextSize,
		"context length for the KV cache estimate")
	return cmd
}

type metadataEntry struct {
	Key   string      `json:"key"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type inspectReport struct {
	Path             string          `json:"path"`
	Quantization     string          `json:"quantization"`
	QuantDescription string          `json:"quantization_description,omitempty"`
	ContextSize      int             `json:"context_size"`
	AttentionHeads   uint32          `json:"attention_heads,omitempty"`
	KVHeads          uint32          `json:"kv_heads,omitempty"`
	HiddenLayers     uint32          `json:"hidden_layers,omitempty"`
	HiddenSize       uint64          `json:"hidden_size,omitempty"`
	ModelSizeMB      uint64          `json:"model_size_mb,omitempty"`
	KVCacheMB        uint64          `json:"kv_cache_mb,omitempty"`
	TotalMB          uint64          `json:"total_mb,omitempty"`
	GGUFVersion      uint32          `json:"gguf_version,omitempty"`
	TensorCount      uint64          `json:"tensor_count,omitempty"`
	MetadataCount    uint64          `json:"metadata_count,omitempty"`
	Metadata         []metadataEntry `json:"metadata,omitempty"`
	ScanError        string          `json:"scan_error,omitempty"`
}

func runInspect(ref string, verbose, asJSON bool, contextSize int) error {
	path := ref
	if ollama.IsRef(ref) {
		resolved, err := ollama.New(cfg).ResolveModelPath(ollama.TrimRef(ref))
		if err != nil {
			return err
		}
		path = resolved
	}

	reader := gguf.NewMetadataReader()
	reader.FetchTimeout = cfg.ScanFetchTimeout()
	reader.Verbose = cfg.Scan.Verbose

	var (
		hdr     *gguf.Header
		entries []gguf.Entry
	)
	if verbose {
		var err error
		hdr, entries, err = reader.ReadMetadata(path)
		if err != nil {
			return fmt.Errorf("read metadata of %s: %w", ref, err)
		}
	}

	params, perr := reader.ReadModelParams(path)
	if perr != nil && !verbose {
		return fmt.Errorf("scan %s: %w", ref, perr)
	}

	quant := modelfile.DetectQuantization(filepath.Base(ref))
	rep := inspectReport{
		Path:         ref,
		Quantization: quant.Type,
		ContextSize:  contextSize,
	}
	if quant.Type != "Unknown" {
		rep.QuantDescription = quant.Description
	}

	sizeLabel := "Estimated size"
	if perr == nil {
		rep.AttentionHeads = params.AttentionHeads
		rep.KVHeads = params.KVHeads
		rep.HiddenLayers = params.HiddenLayers
		rep.HiddenSize = params.HiddenSize

		rep.ModelSizeMB = modelfile.EstimateModelSizeMB(params, quant.Type)
		if !gguf.IsURL(path) {
			if info, err := os.Stat(path); err == nil {
				rep.ModelSizeMB = uint64(info.Size()) / (1000 * 1000)
				sizeLabel = "File size"
			}
		}
		kvBytes := 4.0 * float64(params.HiddenSize) * float64(params.HiddenLayers) * float64(contextSize)
		rep.KVCacheMB = uint64(kvBytes / (1000 * 1000))
		rep.TotalMB = rep.ModelSizeMB + rep.KVCacheMB
	} else {
		rep.ScanError = perr.Error()
	}
	if hdr != nil {
		rep.GGUFVersion = hdr.Version
		rep.TensorCount = hdr.TensorCount
		rep.MetadataCount = hdr.KVCount
		for _, e := range entries {
			rep.Metadata = append(rep.Metadata, metadataEntry{
				Key:   e.Key,
				Type:  e.Type.String(),
				Value: e.Value,
			})
		}
	}

	p := newPrinter()
	if asJSON {
		return p.json(rep)
	}

	quantLabel := quant.Type
	if quant.Type != "Unknown" {
		quantLabel += " (" + quant.Description + ")"
	}
	pairs := [][2]string{
		{"Path", ref},
		{"Quantization", quantLabel},
	}
	if hdr != nil {
		pairs = append(pairs,
			[2]string{"GGUF version", fmt.Sprintf("%d", hdr.Version)},
			[2]string{"Tensors", fmt.Sprintf("%d", hdr.TensorCount)},
			[2]string{"Metadata entries", fmt.Sprintf("%d", hdr.KVCount)},
		)
	}
	if perr == nil {
		pairs = append(pairs,
			[2]string{"Attention heads", fmt.Sprintf("%d", params.AttentionHeads)},
			[2]string{"KV heads", fmt.Sprintf("%d", params.KVHeads)},
			[2]string{"Hidden layers", fmt.Sprintf("%d", params.HiddenLayers)},
			[2]string{"Hidden size", fmt.Sprintf("%d", params.HiddenSize)},
			[2]string{sizeLabel, modelfile.FormatMemorySize(rep.ModelSizeMB)},
			[2]string{fmt.Sprintf("KV cache (%d ctx)", contextSize), modelfile.FormatMemorySize(rep.KVCacheMB)},
			[2]string{"Total memory", modelfile.FormatMemorySize(rep.TotalMB)},
		)
	}
	p.kv(pairs)

	if perr != nil {
		fmt.Printf("\nArchitecture fields incomplete: %v\n", perr)
	}
	if verbose {
		fmt.Println()
		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{e.Key, e.Type.String(), formatEntryValue(e.Value)}
		}
		p.table([]string{"KEY", "TYPE", "VALUE"}, rows)
	}
	return nil
}

// formatEntryValue renders one metadata value for the dump table.
// Arrays and long strings are truncated; full values are available via
// --json.
func formatEntryValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		if len(val) > 60 {
			return fmt.Sprintf("%q...", val[:60])
		}
		return fmt.Sprintf("%q", val)
	case []interface{}:
		if len(val) > 8 {
			return fmt.Sprintf("%v... (%d items)", val[:8], len(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
