package modelfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/longbow-scout/internal/hub"
)

// Quantization describes the quantization variant encoded in a GGUF
// filename. Lower Priority means a better default pick.
type Quantization struct {
	Type        string
	Description string
	Priority    int
}

// ModelFile is one downloadable GGUF artifact of a hub model.
type ModelFile struct {
	ModelID     string
	Path        string
	Size        int64
	DownloadURL string
	Quant       Quantization
	Memory      MemoryUsage
}

// DisplayName formats the file as "model-name:QUANT". The model name is
// the id without its owner, lowercased, underscores turned to hyphens.
func (m ModelFile) DisplayName() string {
	name := m.ModelID
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	return name + ":" + m.Quant.Type
}

// DisplayNameWithMemory appends the memory estimate, or a placeholder
// while a background estimate is still running.
func (m ModelFile) DisplayNameWithMemory() string {
	s := m.DisplayName()
	switch {
	case m.Memory.Loading:
		return s + " [Memory: calculating...]"
	case m.Memory.HasEstimate:
		return s + " [Memory: " + m.Memory.Display + "]"
	}
	return s
}

// MemoryUsage is the estimated footprint of loading a model file at a
// given context size. HasEstimate false means the estimate could not be
// produced; that is not an error condition.
type MemoryUsage struct {
	ModelSizeMB uint64
	KVCacheMB   uint64
	TotalMB     uint64
	Display     string
	HasEstimate bool
	Loading     bool

	pending <-chan MemoryUsage
}

// FormatMemorySize renders a decimal-megabyte count the way file
// browsers do: whole megabytes below a gigabyte, tenths above.
func FormatMemorySize(sizeMB uint64) string {
	if sizeMB >= 1000 {
		return fmt.Sprintf("%.1f GB", float64(sizeMB)/1000.0)
	}
	return fmt.Sprintf("%d MB", sizeMB)
}

// SortByPriority orders files best quantization first. Ties keep their
// listing order.
func SortByPriority(files []ModelFile) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Quant.Priority < files[j].Quant.Priority
	})
}

// FromHubListing converts a hub tree listing into model files with
// quantization detected and download URLs resolved, sorted by priority.
func FromHubListing(h *hub.Client, modelID string, entries []hub.ModelFile) []ModelFile {
	files := make([]ModelFile, 0, len(entries))
	for _, ent := range entries {
		files = append(files, ModelFile{
			ModelID:     modelID,
			Path:        ent.Path,
			Size:        ent.Size,
			DownloadURL: h.DownloadURL(modelID, ent.Path),
			Quant:       DetectQuantization(ent.Path),
		})
	}
	SortByPriority(files)
	return files
}
