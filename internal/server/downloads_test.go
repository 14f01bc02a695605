package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDownloadProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/downloads/llama-3.2-1b" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"status":"downloading","progress":{"percentage":42.5,"downloaded_bytes":850,"total_bytes":2000}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	p, err := c.DownloadProgress(context.Background(), "llama-3.2-1b")
	if err != nil {
		t.Fatalf("DownloadProgress() error = %v", err)
	}
	if p.Status != "downloading" || p.Percentage != 42.5 || p.Downloaded != 850 || p.Total != 2000 {
		t.Errorf("DownloadProgress() = %+v", p)
	}
	if p.ModelID != "llama-3.2-1b" {
		t.Errorf("ModelID = %q", p.ModelID)
	}
}

func TestDownloadProgressLegacyFallback(t *testing.T) {
	var v1Hits, legacyHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/"):
			v1Hits++
			http.NotFound(w, r)
		default:
			legacyHits++
			w.Write([]byte(`{"status":"completed","progress":{"percentage":100}}`))
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	p, err := c.DownloadProgress(context.Background(), "m")
	if err != nil {
		t.Fatalf("DownloadProgress() error = %v", err)
	}
	if p.Status != DownloadCompleted {
		t.Errorf("Status = %q, want completed", p.Status)
	}
	if v1Hits != 1 || legacyHits != 1 {
		t.Errorf("hits = %d v1, %d legacy, want 1 each", v1Hits, legacyHits)
	}
}

func TestDownloadProgressStructured404NoFallback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"download_not_found","message":"no such download"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	p, err := c.DownloadProgress(context.Background(), "already-local")
	if err != nil {
		t.Fatalf("DownloadProgress() error = %v", err)
	}
	if p.Status != DownloadNotFound {
		t.Errorf("Status = %q, want %q", p.Status, DownloadNotFound)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (structured 404 must not retry the legacy route)", hits)
	}
}

func TestListDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/downloads" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"downloads":[
			{"model_id":"a","status":"downloading","percentage":10},
			{"model_id":"b","status":"completed","percentage":100}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	list, err := c.ListDownloads(context.Background())
	if err != nil {
		t.Fatalf("ListDownloads() error = %v", err)
	}
	if len(list) != 2 || list[0].ModelID != "a" || list[1].Status != DownloadCompleted {
		t.Errorf("ListDownloads() = %+v", list)
	}
}

func TestDownloadActions(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()
	if err := c.CancelDownload(ctx, "m"); err != nil {
		t.Errorf("CancelDownload() error = %v", err)
	}
	if err := c.PauseDownload(ctx, "m"); err != nil {
		t.Errorf("PauseDownload() error = %v", err)
	}
	if err := c.ResumeDownload(ctx, "m"); err != nil {
		t.Errorf("ResumeDownload() error = %v", err)
	}

	want := []string{"/v1/downloads/m/cancel", "/v1/downloads/m/pause", "/v1/downloads/m/resume"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestDownloadActionDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if err := c.CancelDownload(context.Background(), "m"); err == nil {
		t.Error("CancelDownload() error = nil, want declined error")
	}
}

func TestCancelAllDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/downloads/cancel" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"cancelled_count":3}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	n, err := c.CancelAllDownloads(context.Background())
	if err != nil {
		t.Fatalf("CancelAllDownloads() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CancelAllDownloads() = %d, want 3", n)
	}
}

// scriptedDownloads answers each progress poll with the next body in
// the sequence, repeating the last one.
type scriptedDownloads struct {
	mu     sync.Mutex
	frames []string
	next   int
}

func (s *scriptedDownloads) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		s.mu.Lock()
		body := s.frames[s.next]
		if s.next < len(s.frames)-1 {
			s.next++
		}
		s.mu.Unlock()
		if body == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(body))
	})
}

func TestMonitorDownloadCompletes(t *testing.T) {
	script := &scriptedDownloads{frames: []string{
		`{"status":"downloading","progress":{"percentage":30,"downloaded_bytes":300,"total_bytes":1000}}`,
		`{"status":"downloading","progress":{"percentage":80,"downloaded_bytes":800,"total_bytes":1000}}`,
		`{"status":"completed","progress":{"percentage":100,"downloaded_bytes":1000,"total_bytes":1000}}`,
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := testClient(t, srv.URL)
	var seen []string
	err := c.MonitorDownload(context.Background(), "m", time.Millisecond, func(p DownloadProgress) {
		seen = append(seen, p.Status)
	})
	if err != nil {
		t.Fatalf("MonitorDownload() error = %v", err)
	}
	want := []string{"downloading", "downloading", "completed"}
	if len(seen) != len(want) {
		t.Fatalf("frames = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frames[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestMonitorDownloadFailure(t *testing.T) {
	script := &scriptedDownloads{frames: []string{
		`{"status":"downloading","progress":{"percentage":10}}`,
		`{"status":"failed","progress":{"percentage":10}}`,
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.MonitorDownload(context.Background(), "m", time.Millisecond, nil)
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("MonitorDownload() error = %v, want failure", err)
	}
}

func TestMonitorDownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"download_not_found","message":"nothing here"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.MonitorDownload(context.Background(), "already-local", time.Millisecond, nil)
	if err != nil {
		t.Errorf("MonitorDownload() error = %v, want nil for not_found", err)
	}
}

func TestMonitorDownloadCompletingFrame(t *testing.T) {
	script := &scriptedDownloads{frames: []string{
		`{"status":"downloading","progress":{"percentage":100,"downloaded_bytes":1000,"total_bytes":1000}}`,
		`{"status":"engine_created","progress":{"percentage":100}}`,
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := testClient(t, srv.URL)
	var seen []string
	err := c.MonitorDownload(context.Background(), "m", time.Millisecond, func(p DownloadProgress) {
		seen = append(seen, p.Status)
	})
	if err != nil {
		t.Fatalf("MonitorDownload() error = %v", err)
	}
	want := []string{"downloading", "completing", "engine_created"}
	if len(seen) != len(want) {
		t.Fatalf("frames = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frames[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestMonitorDownloadRetriesPollErrors(t *testing.T) {
	script := &scriptedDownloads{frames: []string{
		"",
		`{"status":"completed","progress":{"percentage":100}}`,
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.MonitorDownload(context.Background(), "m", time.Millisecond, nil)
	if err != nil {
		t.Errorf("MonitorDownload() error = %v, want nil after transient poll failure", err)
	}
}

func TestMonitorDownloadContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading","progress":{"percentage":10}}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := testClient(t, srv.URL)
	done := make(chan error, 1)
	go func() {
		done <- c.MonitorDownload(ctx, "m", 10*time.Millisecond, nil)
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("MonitorDownload() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("MonitorDownload() did not return after cancellation")
	}
}
