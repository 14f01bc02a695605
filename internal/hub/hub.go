package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/23skdu/longbow-scout/internal/cache"
	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/23skdu/longbow-scout/internal/metrics"
)

// Model is one catalog entry.
type Model struct {
	ID string `json:"id"`
}

// Name returns the model id without its owner prefix.
func (m Model) Name() string {
	if i := strings.IndexByte(m.ID, '/'); i >= 0 {
		return m.ID[i+1:]
	}
	return m.ID
}

// ModelFile is one entry of a repository tree listing.
type ModelFile struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Client queries the model catalog, answering from cache when a fresh
// entry exists and falling back to stale cache entries when the
// network is unreachable.
type Client struct {
	endpoint string
	owner    string
	limit    int

	http      *http.Client
	store     *cache.Store
	modelsTTL time.Duration
	filesTTL  time.Duration
	log       *logger.Logger
}

func New(cfg config.Config, store *cache.Store) *Client {
	return &Client{
		endpoint:  strings.TrimRight(cfg.Hub.Endpoint, "/"),
		owner:     cfg.Hub.Owner,
		limit:     cfg.Hub.SearchLimit,
		http:      &http.Client{Timeout: cfg.HubTimeout()},
		store:     store,
		modelsTTL: cfg.ModelsTTL(),
		filesTTL:  cfg.FilesTTL(),
		log:       logger.Log.With("hub"),
	}
}

// SearchModels lists the catalog models under the configured owner.
func (c *Client) SearchModels(ctx context.Context) ([]Model, error) {
	key := "hub:models:" + c.owner
	if data, ok := c.cacheGet(key); ok {
		var models []Model
		if err := json.Unmarshal(data, &models); err == nil {
			return models, nil
		}
	}

	q := url.Values{}
	q.Set("search", c.owner)
	q.Set("limit", fmt.Sprintf("%d", c.limit))
	endpoint := fmt.Sprintf("%s/api/models?%s", c.endpoint, q.Encode())

	var listed []Model
	err := c.getJSON(ctx, endpoint, &listed)
	metrics.RecordHubRequest("models", err)
	if err != nil {
		if stale, ok := c.cacheStale(key); ok {
			c.log.Warn("catalog unreachable, serving stale model list", "error", err)
			var models []Model
			if uerr := json.Unmarshal(stale, &models); uerr == nil {
				return models, nil
			}
		}
		return nil, fmt.Errorf("search models: %w", err)
	}

	models := make([]Model, 0, len(listed))
	for _, m := range listed {
		if strings.HasPrefix(m.ID, c.owner+"/") {
			models = append(models, m)
		}
	}

	c.cachePut(key, models, c.modelsTTL)
	return models, nil
}

// ListModelFiles lists the model-weight files of one repository.
func (c *Client) ListModelFiles(ctx context.Context, modelID string) ([]ModelFile, error) {
	key := "hub:files:" + modelID
	if data, ok := c.cacheGet(key); ok {
		var files []ModelFile
		if err := json.Unmarshal(data, &files); err == nil {
			return files, nil
		}
	}

	endpoint := fmt.Sprintf("%s/api/models/%s/tree/main", c.endpoint, modelID)

	var tree []ModelFile
	err := c.getJSON(ctx, endpoint, &tree)
	metrics.RecordHubRequest("tree", err)
	if err != nil {
		if stale, ok := c.cacheStale(key); ok {
			c.log.Warn("catalog unreachable, serving stale file list", "model", modelID, "error", err)
			var files []ModelFile
			if uerr := json.Unmarshal(stale, &files); uerr == nil {
				return files, nil
			}
		}
		return nil, fmt.Errorf("list files of %s: %w", modelID, err)
	}

	files := make([]ModelFile, 0, len(tree))
	for _, f := range tree {
		if f.Type == "file" && strings.HasSuffix(f.Path, ".gguf") {
			files = append(files, f)
		}
	}

	c.cachePut(key, files, c.filesTTL)
	return files, nil
}

// DownloadURL builds the direct fetch URL for one file of a model.
func (c *Client) DownloadURL(modelID, path string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.endpoint, modelID, path)
}

// FileSize asks the remote end for a file's size without fetching it.
func (c *Client) FileSize(ctx context.Context, fileURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fileURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	metrics.RecordHubRequest("head", err)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("head %s: unexpected status %d", fileURL, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("head %s: no content length", fileURL)
	}
	return resp.ContentLength, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) cacheGet(key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	return c.store.Get(key)
}

func (c *Client) cacheStale(key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	return c.store.GetStale(key)
}

func (c *Client) cachePut(key string, v interface{}, ttl time.Duration) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Put(key, data, ttl); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
}
