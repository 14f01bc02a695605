// Package server talks to the managed inference server's REST API and
// supervises its process lifecycle.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/23skdu/longbow-scout/internal/metrics"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server, with the structured
// code and message when the body carried them.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("server returned status %d", e.Status)
	}
}

// Client drives the inference server over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	binary  string

	// stream has no timeout; completions run as long as their
	// context allows.
	http   *http.Client
	stream *http.Client

	healthInterval time.Duration
	pidFile        string
	logFile        string

	log *logger.Logger
}

// New builds a client for the configured server.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.Server.BaseURL, "/"),
		apiKey:         cfg.Server.APIKey,
		binary:         cfg.Server.Binary,
		http:           &http.Client{Timeout: requestTimeout},
		stream:         &http.Client{},
		healthInterval: cfg.HealthInterval(),
		pidFile:        defaultPidFile(),
		logFile:        defaultLogFile(),
		log:            logger.Log.With("server"),
	}
}

// BaseURL reports the address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// do issues one JSON request. Every request carries a generated
// X-Request-ID so client and server logs can be correlated.
func (c *Client) do(ctx context.Context, op, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	req.Header.Set("X-Request-ID", id)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	c.log.Debug("server request", "id", id, "method", method, "endpoint", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordServerRequest(op, err)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordServerRequest(op, err)
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, data)
		metrics.RecordServerRequest(op, apiErr)
		c.log.Debug("server request failed", "id", id, "endpoint", endpoint,
			"status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}
	metrics.RecordServerRequest(op, nil)

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse %s response: %w", endpoint, err)
		}
	}
	return nil
}

func parseAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &wrapper) == nil {
		apiErr.Code = wrapper.Error.Code
		apiErr.Message = wrapper.Error.Message
	}
	return apiErr
}

// doWithFallback retries on the legacy route when the versioned one is
// absent. Only an unstructured 404 counts as absent; a structured 404
// means the route exists and the resource does not.
func (c *Client) doWithFallback(ctx context.Context, op, method, primary, fallback string, payload, out interface{}) error {
	err := c.do(ctx, op, method, primary, payload, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && apiErr.Code == "" {
		return c.do(ctx, op, method, fallback, payload, out)
	}
	return err
}

// Healthy reports whether the server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "health", http.MethodGet, "/v1/health", nil, &out); err != nil {
		return false
	}
	return out.Status == "healthy"
}

// ListEngines returns the ids of every model registered with the
// server, loaded or not.
func (c *Client) ListEngines(ctx context.Context) ([]string, error) {
	var out struct {
		Models []struct {
			ModelID string `json:"model_id"`
		} `json:"models"`
	}
	if err := c.do(ctx, "models", http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		ids = append(ids, m.ModelID)
	}
	return ids, nil
}

// EngineExists reports whether engineID is registered.
func (c *Client) EngineExists(ctx context.Context, engineID string) (bool, error) {
	ids, err := c.ListEngines(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == engineID {
			return true, nil
		}
	}
	return false, nil
}

// LoadParams tune how the server loads a model.
type LoadParams struct {
	NCtx         int  `json:"n_ctx"`
	NKeep        int  `json:"n_keep"`
	UseMmap      bool `json:"use_mmap"`
	UseMlock     bool `json:"use_mlock"`
	NParallel    int  `json:"n_parallel"`
	ContBatching bool `json:"cont_batching"`
	Warmup       bool `json:"warmup"`
	NGPULayers   int  `json:"n_gpu_layers"`
	NBatch       int  `json:"n_batch"`
	NUBatch      int  `json:"n_ubatch"`
	SplitMode    int  `json:"split_mode"`
}

// DefaultLoadParams returns the load tuning sent when the caller has
// no opinion.
func DefaultLoadParams() LoadParams {
	return LoadParams{
		NCtx:         8192,
		NKeep:        8192,
		UseMmap:      true,
		UseMlock:     true,
		NParallel:    1,
		ContBatching: true,
		Warmup:       false,
		NGPULayers:   50,
		NBatch:       2048,
		NUBatch:      512,
		SplitMode:    0,
	}
}

func modelTypeFor(engineID string) string {
	if strings.Contains(strings.ToLower(engineID), "embed") {
		return "embedding"
	}
	return "llm"
}

// AddEngine registers a model with the server. modelPath may be a
// local file or a URL; the server downloads URLs in the background and
// the transfer is visible through the download endpoints. Registering
// an id the server already has is not an error.
func (c *Client) AddEngine(ctx context.Context, engineID, modelPath string, params LoadParams) error {
	payload := map[string]interface{}{
		"model_id":           engineID,
		"model_path":         modelPath,
		"model_type":         modelTypeFor(engineID),
		"load_immediately":   false,
		"main_gpu_id":        0,
		"loading_parameters": params,
	}
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, "models", http.MethodPost, "/models", payload, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "model_already_loaded" {
		c.log.Debug("engine already loaded", "engine", engineID)
		return nil
	}
	if err != nil {
		return err
	}
	c.log.Info("engine registered", "engine", engineID, "status", out.Status)
	return nil
}

// RemoveEngine unregisters a model from the server.
func (c *Client) RemoveEngine(ctx context.Context, engineID string) error {
	var out struct {
		Status string `json:"status"`
	}
	endpoint := "/models/" + url.PathEscape(engineID)
	if err := c.do(ctx, "models", http.MethodDelete, endpoint, nil, &out); err != nil {
		return err
	}
	if out.Status != "removed" {
		return fmt.Errorf("remove engine %s: unexpected status %q", engineID, out.Status)
	}
	return nil
}

// EngineStatus reports the load state of a model and any detail the
// server attaches to it.
func (c *Client) EngineStatus(ctx context.Context, engineID string) (status, message string, err error) {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	endpoint := "/models/" + url.PathEscape(engineID) + "/status"
	if err := c.do(ctx, "models", http.MethodGet, endpoint, nil, &out); err != nil {
		return "", "", err
	}
	if out.Status == "" {
		out.Status = "unknown"
	}
	return out.Status, out.Message, nil
}

// Logs fetches the server's recent log output.
func (c *Client) Logs(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/logs", nil)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordServerRequest("logs", err)
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordServerRequest("logs", err)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, data)
		metrics.RecordServerRequest("logs", apiErr)
		return "", apiErr
	}
	metrics.RecordServerRequest("logs", nil)
	return string(data), nil
}
