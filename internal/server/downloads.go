package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DownloadProgress is the state of one background model download.
type DownloadProgress struct {
	ModelID    string  `json:"model_id"`
	Status     string  `json:"status"`
	Percentage float64 `json:"percentage"`
	Downloaded int64   `json:"downloaded_bytes"`
	Total      int64   `json:"total_bytes"`
}

// Download terminal states. A download that reached the engine stage
// counts as done; the load itself is tracked per engine.
const (
	DownloadCompleted  = "completed"
	DownloadFailed     = "failed"
	DownloadCancelled  = "cancelled"
	DownloadNotFound   = "not_found"
	downloadEngineUp   = "engine_created"
	downloadEngineWork = "creating_engine"
	downloadEngineFail = "engine_creation_failed"
)

// DownloadProgress fetches the progress of one download. A download
// the server has no record of resolves to DownloadNotFound rather than
// an error; that is the normal answer for a model that was already on
// disk.
func (c *Client) DownloadProgress(ctx context.Context, modelID string) (DownloadProgress, error) {
	var out struct {
		Status   string `json:"status"`
		Progress struct {
			Percentage float64 `json:"percentage"`
			Downloaded int64   `json:"downloaded_bytes"`
			Total      int64   `json:"total_bytes"`
		} `json:"progress"`
	}
	escaped := url.PathEscape(modelID)
	err := c.doWithFallback(ctx, "downloads", http.MethodGet,
		"/v1/downloads/"+escaped, "/downloads/"+escaped, nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "download_not_found" {
			return DownloadProgress{ModelID: modelID, Status: DownloadNotFound}, nil
		}
		return DownloadProgress{}, err
	}
	status := out.Status
	if status == "" {
		status = "unknown"
	}
	return DownloadProgress{
		ModelID:    modelID,
		Status:     status,
		Percentage: out.Progress.Percentage,
		Downloaded: out.Progress.Downloaded,
		Total:      out.Progress.Total,
	}, nil
}

// ListDownloads returns every download the server is tracking.
func (c *Client) ListDownloads(ctx context.Context) ([]DownloadProgress, error) {
	var out struct {
		Downloads []DownloadProgress `json:"downloads"`
	}
	err := c.doWithFallback(ctx, "downloads", http.MethodGet,
		"/v1/downloads", "/downloads", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Downloads, nil
}

func (c *Client) downloadAction(ctx context.Context, modelID, action string) error {
	var out struct {
		Success bool `json:"success"`
	}
	path := "/downloads/" + url.PathEscape(modelID) + "/" + action
	err := c.doWithFallback(ctx, "downloads", http.MethodPost,
		"/v1"+path, path, struct{}{}, &out)
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("server declined to %s download for %s", action, modelID)
	}
	return nil
}

// CancelDownload aborts one download.
func (c *Client) CancelDownload(ctx context.Context, modelID string) error {
	return c.downloadAction(ctx, modelID, "cancel")
}

// PauseDownload suspends one download; ResumeDownload continues it.
func (c *Client) PauseDownload(ctx context.Context, modelID string) error {
	return c.downloadAction(ctx, modelID, "pause")
}

func (c *Client) ResumeDownload(ctx context.Context, modelID string) error {
	return c.downloadAction(ctx, modelID, "resume")
}

// CancelAllDownloads aborts every active download and reports how many
// the server cancelled.
func (c *Client) CancelAllDownloads(ctx context.Context) (int, error) {
	var out struct {
		CancelledCount int `json:"cancelled_count"`
	}
	err := c.doWithFallback(ctx, "downloads", http.MethodPost,
		"/v1/downloads/cancel", "/downloads/cancel", struct{}{}, &out)
	if err != nil {
		return 0, err
	}
	return out.CancelledCount, nil
}

const (
	monitorTimeout = 30 * time.Minute
	// A download that sits at 100% is finalizing on the server's
	// side. Give it stuckGrace before probing the engine list, and
	// stuckLimit before declaring it stalled.
	stuckGrace = 30 * time.Second
	stuckLimit = 2 * time.Minute
)

// ProgressFunc receives every progress frame a monitor observes,
// including the synthetic "completing" and "processing" frames emitted
// while the server finalizes a finished transfer.
type ProgressFunc func(p DownloadProgress)

// MonitorDownload polls a download until it reaches a terminal state.
// Poll errors are retried on the next tick; the monitor gives up only
// on context cancellation, terminal failure, or the overall timeout.
func (c *Client) MonitorDownload(ctx context.Context, modelID string, interval time.Duration, fn ProgressFunc) error {
	if interval <= 0 {
		interval = time.Second
	}
	start := time.Now()
	var stuckSince time.Time

	for {
		if time.Since(start) > monitorTimeout {
			return fmt.Errorf("download %s did not finish within %s", modelID, monitorTimeout)
		}

		p, err := c.DownloadProgress(ctx, modelID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Debug("download poll failed", "model", modelID, "error", err)
		} else {
			if fn != nil {
				fn(p)
			}
			switch p.Status {
			case DownloadCompleted, downloadEngineWork, downloadEngineUp:
				return nil
			case DownloadNotFound:
				// Nothing was downloading; the model was
				// already local.
				return nil
			case DownloadFailed, DownloadCancelled, downloadEngineFail:
				return fmt.Errorf("download %s %s", modelID, p.Status)
			case "downloading":
				if p.Percentage < 100 {
					stuckSince = time.Time{}
					break
				}
				if stuckSince.IsZero() {
					stuckSince = time.Now()
					emit(fn, p, "completing")
					break
				}
				if since := time.Since(stuckSince); since > stuckGrace {
					ok, err := c.EngineExists(ctx, modelID)
					if err == nil && ok {
						emit(fn, p, downloadEngineUp)
						return nil
					}
					if since > stuckLimit {
						return fmt.Errorf("download %s stalled at 100%%", modelID)
					}
					emit(fn, p, "processing")
				}
			default:
				stuckSince = time.Time{}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func emit(fn ProgressFunc, p DownloadProgress, status string) {
	if fn == nil {
		return
	}
	p.Status = status
	fn(p)
}
