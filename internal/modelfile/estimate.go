package modelfile

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-scout/internal/gguf"
	"github.com/23skdu/longbow-scout/internal/hub"
	"github.com/23skdu/longbow-scout/internal/logger"
)

// DefaultContextSize is the context length memory estimates assume.
const DefaultContextSize = 4096

// maxConcurrentEstimates bounds how many background estimates fetch at
// once; each one owns its own metadata scan connection.
const maxConcurrentEstimates = 4

// Estimator produces memory-usage estimates for model files by
// combining the served file size with a remote metadata scan.
type Estimator struct {
	hub    *hub.Client
	reader *gguf.MetadataReader
	sem    chan struct{}
	log    *logger.Logger
}

// NewEstimator wires an estimator to a hub client. A nil reader gets
// the default metadata reader.
func NewEstimator(h *hub.Client, r *gguf.MetadataReader) *Estimator {
	if r == nil {
		r = gguf.NewMetadataReader()
	}
	return &Estimator{
		hub:    h,
		reader: r,
		sem:    make(chan struct{}, maxConcurrentEstimates),
		log:    logger.Log.With("modelfile"),
	}
}

// EstimateMemory computes the footprint of loading mf at contextSize:
// the served file size plus the KV cache the architecture implies. A
// file that cannot be sized or scanned yields HasEstimate false rather
// than an error.
func (e *Estimator) EstimateMemory(ctx context.Context, mf ModelFile, contextSize int) MemoryUsage {
	var usage MemoryUsage
	if mf.DownloadURL == "" {
		return usage
	}

	size, err := e.hub.FileSize(ctx, mf.DownloadURL)
	if err != nil {
		e.log.Debug("file size unavailable", "url", mf.DownloadURL, "error", err)
		return usage
	}

	params, err := e.reader.ReadModelParams(mf.DownloadURL)
	if err != nil {
		e.log.Debug("metadata scan failed", "url", mf.DownloadURL, "error", err)
		usage.ModelSizeMB = uint64(size) / (1000 * 1000)
		return usage
	}

	return EstimateFromParams(size, params, contextSize)
}

// EstimateFromParams computes the footprint for a file whose size and
// architecture are already known, with no scan of its own. Sizes are
// decimal megabytes, matching what browsers and file managers display
// for the same file.
func EstimateFromParams(sizeBytes int64, params *gguf.ModelParams, contextSize int) MemoryUsage {
	var usage MemoryUsage
	if sizeBytes <= 0 || params == nil {
		return usage
	}
	usage.ModelSizeMB = uint64(sizeBytes) / (1000 * 1000)
	kvBytes := 4.0 * float64(params.HiddenSize) * float64(params.HiddenLayers) * float64(contextSize)
	usage.KVCacheMB = uint64(kvBytes / (1000 * 1000))
	usage.TotalMB = usage.ModelSizeMB + usage.KVCacheMB
	usage.Display = fmt.Sprintf("%s (Model: %s + KV: %s)",
		FormatMemorySize(usage.TotalMB),
		FormatMemorySize(usage.ModelSizeMB),
		FormatMemorySize(usage.KVCacheMB))
	usage.HasEstimate = true
	return usage
}

// EstimateMemoryAsync starts the estimate in the background and returns
// immediately with Loading set. Fold the result in later with Poll.
func (e *Estimator) EstimateMemoryAsync(ctx context.Context, mf ModelFile, contextSize int) MemoryUsage {
	var usage MemoryUsage
	if mf.DownloadURL == "" {
		return usage
	}

	done := make(chan MemoryUsage, 1)
	usage.Loading = true
	usage.pending = done

	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		done <- e.EstimateMemory(ctx, mf, contextSize)
	}()
	return usage
}

// EstimateAll starts a background estimate for every file in place.
func (e *Estimator) EstimateAll(ctx context.Context, files []ModelFile, contextSize int) {
	for i := range files {
		files[i].Memory = e.EstimateMemoryAsync(ctx, files[i], contextSize)
	}
}

// Poll folds a finished background estimate into u without blocking.
// It reports true exactly once per estimate, when the result lands.
func (e *Estimator) Poll(u *MemoryUsage) bool {
	if !u.Loading || u.pending == nil {
		return false
	}
	select {
	case res := <-u.pending:
		*u = res
		return true
	default:
		return false
	}
}

// PollAll polls every file's pending estimate and reports whether any
// completed on this pass.
func (e *Estimator) PollAll(files []ModelFile) bool {
	completed := false
	for i := range files {
		if e.Poll(&files[i].Memory) {
			completed = true
		}
	}
	return completed
}
