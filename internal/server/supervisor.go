package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func defaultPidFile() string {
	return filepath.Join(os.TempDir(), "longbow-scout-server.pid")
}

func defaultLogFile() string {
	return filepath.Join(os.TempDir(), "longbow-scout-server.log")
}

// LocateBinary finds the inference server executable: next to the
// running CLI, in the conventional layouts around it, then on PATH.
func LocateBinary(name string) (string, error) {
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		parent := filepath.Dir(exeDir)
		candidates := []string{
			filepath.Join(exeDir, name),
			filepath.Join(exeDir, name, name),
			filepath.Join(parent, "server-bin", name),
			filepath.Join(parent, "build", name, name),
		}
		for _, p := range candidates {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}
	return exec.LookPath(name)
}

// StartServer spawns the configured server binary detached from the
// CLI, so it keeps serving after the CLI exits. It is a no-op when a
// healthy server is already answering.
func (c *Client) StartServer(ctx context.Context) error {
	if c.Healthy(ctx) {
		c.log.Debug("server already running", "url", c.baseURL)
		return nil
	}

	path := c.binary
	if strings.ContainsRune(path, os.PathSeparator) {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("server binary: %w", err)
		}
	} else {
		located, err := LocateBinary(path)
		if err != nil {
			return fmt.Errorf("locate server binary %q: %w", path, err)
		}
		path = located
	}

	logf, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}
	defer logf.Close()

	cmd := exec.Command(path)
	cmd.Dir = workingDir()
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := cmd.Process.Pid
	if err := os.WriteFile(c.pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		c.log.Warn("could not record server pid", "path", c.pidFile, "error", err)
	}
	if err := cmd.Process.Release(); err != nil {
		c.log.Warn("release server process", "error", err)
	}
	c.log.Info("server started", "binary", path, "pid", pid, "log", c.logFile)
	return nil
}

// workingDir picks the directory the server runs in: beside the CLI
// when writable, then the home directory, then the temp dir.
func workingDir() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		if probe, err := os.CreateTemp(dir, ".scout-probe-*"); err == nil {
			probe.Close()
			os.Remove(probe.Name())
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

// StopServer stops the running server: the shutdown endpoint first,
// then a signal to the process recorded at startup. Stopping when
// nothing runs is not an error.
func (c *Client) StopServer(ctx context.Context) error {
	if err := c.doWithFallback(ctx, "shutdown", http.MethodPost, "/v1/shutdown", "/shutdown", struct{}{}, nil); err == nil {
		if c.awaitDown(ctx, 5*time.Second) {
			os.Remove(c.pidFile)
			c.log.Info("server stopped")
			return nil
		}
		c.log.Warn("server accepted shutdown but is still answering")
	}

	pid, err := c.readPid()
	if err != nil {
		if c.Healthy(ctx) {
			return fmt.Errorf("server at %s is running but has no recorded pid; stop it manually", c.baseURL)
		}
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(c.pidFile)
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		os.Remove(c.pidFile)
		return nil
	}
	c.log.Info("sent SIGTERM to server", "pid", pid)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if proc.Signal(syscall.Signal(0)) != nil {
			os.Remove(c.pidFile)
			c.log.Info("server stopped", "pid", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	c.log.Warn("server ignored SIGTERM, killing", "pid", pid)
	if err := proc.Kill(); err != nil && proc.Signal(syscall.Signal(0)) == nil {
		return fmt.Errorf("kill server pid %d: %w", pid, err)
	}
	os.Remove(c.pidFile)
	return nil
}

func (c *Client) readPid() (int, error) {
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", c.pidFile, err)
	}
	return pid, nil
}

func (c *Client) awaitDown(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !c.Healthy(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

// WaitForReady polls until the server reports healthy or the timeout
// elapses.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	interval := c.healthInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if c.Healthy(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s not ready after %s", c.baseURL, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
