// Package scrape implements the browser-automation engine that turns a
// county's legacy search UI into a stream of lien records plus their PDFs.
package scrape

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// systemBrowserPaths are probed before falling back to the bundled binary.
var systemBrowserPaths = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	ExecPath      string
	UserAgent     string
	LaunchRetries int
	NavTimeout    time.Duration
}

// Session owns one headless browser for the duration of a scraper run.
type Session struct {
	cfg BrowserConfig

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu         sync.Mutex
	pageCtx    context.Context
	pageCancel context.CancelFunc
	closed     bool

	logger *zap.Logger
}

// NewSession returns an unlaunched session.
func NewSession(cfg BrowserConfig, logger *zap.Logger) *Session {
	if cfg.LaunchRetries <= 0 {
		cfg.LaunchRetries = 3
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Session{cfg: cfg, logger: logger}
}

// Launch starts headless Chrome, retrying with fixed backoff. Sandboxing is
// disabled for containerized execution.
func (s *Session) Launch(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LaunchRetries; attempt++ {
		if err := s.launchOnce(ctx); err != nil {
			lastErr = err
			s.logger.Warn("browser launch failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("browser launch canceled: %w", ctx.Err())
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("browser launch failed after %d attempts: %w", s.cfg.LaunchRetries, lastErr)
}

// launchOnce parents the allocator on context.Background so the browser
// outlives the caller's init-timeout context.
func (s *Session) launchOnce(_ context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}
	if path := s.execPath(); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}

	s.mu.Lock()
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.closed = false
	s.mu.Unlock()
	return nil
}

// execPath resolves the browser binary: explicit config first, then a
// system binary, then empty so chromedp falls back to its bundled lookup.
func (s *Session) execPath() string {
	if s.cfg.ExecPath != "" {
		return s.cfg.ExecPath
	}
	for _, candidate := range systemBrowserPaths {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

// Page returns the scratch tab shared across records, creating it on first
// use. The same tab is reused to bound resource growth.
func (s *Session) Page() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.browserCtx == nil {
		return nil, fmt.Errorf("browser session is not running")
	}
	if s.pageCtx == nil || s.pageCtx.Err() != nil {
		if s.pageCancel != nil {
			s.pageCancel()
		}
		s.pageCtx, s.pageCancel = chromedp.NewContext(s.browserCtx)
	}
	return s.pageCtx, nil
}

// ResetPage discards the scratch tab after it becomes unusable (detached
// frame, lost connection). The next Page call creates a fresh one.
func (s *Session) ResetPage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageCancel != nil {
		s.pageCancel()
		s.pageCtx = nil
		s.pageCancel = nil
	}
}

// Running reports whether the session has a live browser.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.browserCtx != nil && s.browserCtx.Err() == nil
}

// NavTimeout returns the per-navigation timeout.
func (s *Session) NavTimeout() time.Duration {
	return s.cfg.NavTimeout
}

// Close tears down the browser and allocator. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.pageCancel != nil {
		s.pageCancel()
		s.pageCtx = nil
		s.pageCancel = nil
	}
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}
