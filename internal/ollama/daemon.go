package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/23skdu/longbow-scout/internal/gguf"
	"github.com/23skdu/longbow-scout/internal/modelfile"
)

// Model is one entry of the daemon's /api/tags listing. Entries built
// from a manifest walk fill only the fields the manifest carries.
type Model struct {
	Name       string       `json:"name"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// FormattedSize renders the blob size in binary units.
func (m Model) FormattedSize() string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(m.Size)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}

// DaemonRunning reports whether the local daemon answers on /api/tags.
func (c *Client) DaemonRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.daemonURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListLocalModels lists pulled models, preferring the daemon's view.
// When no daemon is running it degrades to walking the manifest store
// directly.
func (c *Client) ListLocalModels(ctx context.Context) ([]Model, error) {
	models, err := c.listFromDaemon(ctx)
	if err == nil {
		return models, nil
	}
	c.log.Warn("daemon unreachable, walking local manifest store", "error", err)
	return c.listFromStore()
}

func (c *Client) listFromDaemon(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.daemonURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse tags response: %w", err)
	}
	return out.Models, nil
}

// listFromStore rebuilds the model list from manifest files. Manifests
// live at manifests/<host>/<namespace>/<name>/<tag>; unreadable or
// foreign files are skipped.
func (c *Client) listFromStore() ([]Model, error) {
	base, err := c.StoreDir()
	if err != nil {
		return nil, err
	}
	root := filepath.Join(base, "manifests")

	var models []Model
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 4 {
			return nil
		}
		host, ns, name, tag := parts[0], parts[1], parts[2], parts[3]

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		layer, ok := modelLayer(m)
		if !ok {
			return nil
		}

		display := name + ":" + tag
		if host != DefaultRegistry || ns != DefaultNamespace {
			display = host + "/" + ns + "/" + display
		}
		models = append(models, Model{
			Name:    display,
			Size:    layer.Size,
			Digest:  layer.Digest,
			Details: ModelDetails{Format: "gguf"},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk model store: %w", err)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// PullProgress is one status frame of a streaming pull.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Err       string `json:"error"`
}

// Percent reports download completion, or 0 while the total is unknown.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Pull downloads a model through the daemon, invoking progress for each
// status frame of the response stream. The context bounds the whole
// transfer.
func (c *Client) Pull(ctx context.Context, name string, progress func(PullProgress)) error {
	if name == "" {
		return errors.New("empty model name")
	}

	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.daemonURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull %s: daemon returned status %d", name, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pull stream: %w", err)
		}
		if p.Err != "" {
			return fmt.Errorf("pull %s: %s", name, p.Err)
		}
		if progress != nil {
			progress(p)
		}
	}
}

// ToModelFile converts a local model into the selector's file shape.
// The quantization comes from the daemon's reported level when present,
// the model name otherwise.
func ToModelFile(m Model) modelfile.ModelFile {
	quantSource := m.Name
	if m.Details.QuantizationLevel != "" {
		quantSource = m.Details.QuantizationLevel
	}
	return modelfile.ModelFile{
		ModelID:     "ollama/" + m.Name,
		Path:        m.Name + ".gguf",
		Size:        m.Size,
		DownloadURL: Ref(m.Name),
		Quant:       modelfile.DetectQuantization(quantSource),
	}
}

// LocalParams scans the resolved blob of a local model. No network is
// involved; the blob is read as a plain file.
func (c *Client) LocalParams(r *gguf.MetadataReader, name string) (*gguf.ModelParams, error) {
	blob, err := c.ResolveModelPath(name)
	if err != nil {
		return nil, err
	}
	return r.ReadModelParams(blob)
}
