// Package headless drives the portal through a single headless Chrome tab.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

// Config controls the browser session.
type Config struct {
	UserAgent         string
	ViewportWidth     int64
	ViewportHeight    int64
	NavigationTimeout time.Duration
	// Headful shows the browser window; useful when debugging selectors.
	Headful bool
}

// Driver implements harvest.Driver on one chromedp tab. The tab keeps its
// cookies for the life of the Driver, so the login session carries over to
// every later navigation.
type Driver struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	mu         sync.Mutex
	configured bool
}

var _ harvest.Driver = (*Driver)(nil)

// NewChromedp creates a Driver. The browser starts on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, fmt.Errorf("viewport must be >= 0, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Errorf))

	return &Driver{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Close shuts the tab and the browser process down.
func (d *Driver) Close() {
	d.tabCancel()
	d.allocCancel()
}

// Navigate loads url and waits for the document body.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, d.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Fill types value into the field matched by selector.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	if err := d.run(ctx, d.cfg.NavigationTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first element matched by selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.cfg.NavigationTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// WaitFor blocks until selector is present or timeout elapses.
func (d *Driver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return waitError(selector, d.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery)))
}

// Evaluate runs script in the page and decodes its result into out.
func (d *Driver) Evaluate(ctx context.Context, script string, out any) error {
	if err := d.run(ctx, d.cfg.NavigationTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// OuterHTML returns the markup of the first node matched by selector.
func (d *Driver) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := d.run(ctx, d.cfg.NavigationTimeout, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html %q: %w", selector, err)
	}
	return html, nil
}

// CaptureRegion screenshots the node matched by selector as PNG.
func (d *Driver) CaptureRegion(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.NavigationTimeout, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("capture %q: %w", selector, err)
	}
	return buf, nil
}

// CapturePage screenshots the current viewport as PNG.
func (d *Driver) CapturePage(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.NavigationTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	return buf, nil
}

// run executes actions on the shared tab, bounded by timeout and by ctx.
// Calls are serialized; the tab cannot serve parallel navigations.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		if err := chromedp.Run(d.tab, d.setupAction()); err != nil {
			return fmt.Errorf("configure browser: %w", err)
		}
		d.configured = true
	}

	taskCtx, cancel := context.WithTimeout(d.tab, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	err := chromedp.Run(taskCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (d *Driver) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := chromedp.EmulateViewport(d.cfg.ViewportWidth, d.cfg.ViewportHeight).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

// waitError maps a deadline on a wait to harvest.ErrWaitTimeout.
func waitError(selector string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("wait for %q: %w", selector, harvest.ErrWaitTimeout)
	default:
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
}

// forwardCancel cancels the task when parent is done. The returned func
// stops forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
