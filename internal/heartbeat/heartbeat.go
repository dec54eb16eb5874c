// Package heartbeat periodically records process liveness so external
// monitors can detect a wedged worker. It writes a unix timestamp to a
// local file and optionally pings an HTTP endpoint; both are best-effort
// and never interrupt job processing.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config controls the reporter.
type Config struct {
	// Path is the liveness file location. Empty disables file reporting.
	Path string

	// Endpoint is an optional URL fetched with GET on every beat. Empty
	// disables endpoint reporting.
	Endpoint string

	// Interval is the time between beats.
	Interval time.Duration
}

// Reporter emits liveness beats on a fixed interval until stopped.
type Reporter struct {
	config Config
	client *http.Client
	logger *slog.Logger
	clock  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter creates a reporter. Start must be called to begin beating.
func NewReporter(config Config, logger *slog.Logger) *Reporter {
	if config.Interval <= 0 {
		config.Interval = 20 * time.Second
	}
	return &Reporter{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		clock:  time.Now,
	}
}

// Start launches the beat loop. An immediate first beat is emitted so
// /healthz is green as soon as the process is up.
func (r *Reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.Beat(ctx)

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Beat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the beat loop and waits for any in-flight beat to finish.
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Beat emits one liveness report. Failures are logged and swallowed; a
// monitoring gap must never take the worker down.
func (r *Reporter) Beat(ctx context.Context) {
	if r.config.Path != "" {
		if err := r.writeFile(); err != nil {
			r.logger.Warn("heartbeat file write failed", "path", r.config.Path, "error", err)
		}
	}
	if r.config.Endpoint != "" {
		if err := r.pingEndpoint(ctx); err != nil {
			r.logger.Warn("heartbeat endpoint ping failed", "endpoint", r.config.Endpoint, "error", err)
		}
	}
}

// Healthy reports whether the liveness file was touched within
// staleAfter. With file reporting disabled it always returns true.
func (r *Reporter) Healthy(staleAfter time.Duration) bool {
	if r.config.Path == "" {
		return true
	}
	raw, err := os.ReadFile(r.config.Path)
	if err != nil {
		return false
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return false
	}
	return r.clock().Sub(time.Unix(seconds, 0)) <= staleAfter
}

// writeFile records the current unix time via write-then-rename so a
// reader never observes a partial write.
func (r *Reporter) writeFile() error {
	dir := filepath.Dir(r.config.Path)
	tmp, err := os.CreateTemp(dir, ".heartbeat-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	stamp := strconv.FormatInt(r.clock().Unix(), 10)
	if _, err := tmp.WriteString(stamp); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.config.Path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (r *Reporter) pingEndpoint(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
