package ollama

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/logger"
)

const (
	DefaultTag       = "latest"
	DefaultRegistry  = "registry.ollama.ai"
	DefaultNamespace = "library"
	MediaTypeModel   = "application/vnd.ollama.image.model"

	// RefScheme marks a model reference that resolves through the
	// local ollama store instead of a download URL.
	RefScheme = "ollama://"

	requestTimeout = 30 * time.Second
)

// Manifest is the on-disk image manifest of a pulled model.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// modelLayer picks the GGUF weights layer out of a manifest.
func modelLayer(m Manifest) (Layer, bool) {
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			return l, true
		}
	}
	return Layer{}, false
}

// IsRef reports whether s is an ollama:// model reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}

// TrimRef strips the ollama:// scheme from a reference.
func TrimRef(s string) string {
	return strings.TrimPrefix(s, RefScheme)
}

// Ref builds the ollama:// reference for a model name.
func Ref(name string) string {
	return RefScheme + name
}

// ParseModelName splits "llama3:8b" into name and tag. A missing tag
// defaults to latest; a colon inside a registry path is not a tag.
func ParseModelName(full string) (name, tag string) {
	if i := strings.LastIndexByte(full, ':'); i >= 0 && !strings.ContainsRune(full[i:], '/') {
		return full[:i], full[i+1:]
	}
	return full, DefaultTag
}

// Client reads the local ollama model store and talks to the daemon
// when one is running.
type Client struct {
	daemonURL string
	storeDir  string
	http      *http.Client
	// stream has no timeout; pulls run as long as their context allows.
	stream *http.Client
	log    *logger.Logger
}

func New(cfg config.Config) *Client {
	return &Client{
		daemonURL: strings.TrimRight(cfg.Ollama.DaemonURL, "/"),
		storeDir:  cfg.Ollama.ManifestDir,
		http:      &http.Client{Timeout: requestTimeout},
		stream:    &http.Client{},
		log:       logger.Log.With("ollama"),
	}
}

// StoreDir resolves the model store: explicit config first, then the
// OLLAMA_MODELS environment variable, then ~/.ollama/models.
func (c *Client) StoreDir() (string, error) {
	if c.storeDir != "" {
		return c.storeDir, nil
	}
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// ResolveModelPath finds the GGUF blob for a model name by reading its
// manifest out of the local store. Names may carry a tag ("llama3:8b")
// and a registry path ("host/namespace/name"); short names resolve
// under registry.ollama.ai/library.
func (c *Client) ResolveModelPath(modelName string) (string, error) {
	name, tag := ParseModelName(modelName)

	host, ns := DefaultRegistry, DefaultNamespace
	switch parts := strings.Split(name, "/"); len(parts) {
	case 1:
	case 2:
		ns, name = parts[0], parts[1]
	case 3:
		host, ns, name = parts[0], parts[1], parts[2]
	default:
		return "", fmt.Errorf("invalid model name %q", modelName)
	}

	base, err := c.StoreDir()
	if err != nil {
		return "", err
	}

	manifestPath := filepath.Join(base, "manifests", host, ns, name, tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no manifest for %s at %s", modelName, manifestPath)
		}
		return "", err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse manifest for %s: %w", modelName, err)
	}

	layer, ok := modelLayer(m)
	if !ok {
		return "", fmt.Errorf("no model layer in manifest for %s", modelName)
	}

	// Digest "sha256:hash" becomes blob file "sha256-hash".
	blobPath := filepath.Join(base, "blobs", strings.Replace(layer.Digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("model blob missing at %s", blobPath)
	}
	return blobPath, nil
}
