// Package browser renders pages to PDF or PNG with headless Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

// Lifecycle event names emitted by Chrome for a navigation.
const (
	EventNetworkIdle      = "networkIdle"
	EventDOMContentLoaded = "DOMContentLoaded"
)

// A4 paper in inches with ~1cm margins.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69
	marginIn      = 0.3937
)

// Config controls the behavior of the browser renderer.
type Config struct {
	ExecPath    string
	NoSandbox   bool
	UserAgent   string
	NavTimeout  time.Duration
	Settle      time.Duration
	MaxParallel int
}

// Renderer implements capture.Renderer using an isolated Chrome per capture.
type Renderer struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// New creates a browser renderer. It does not start Chrome.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Name identifies the strategy.
func (*Renderer) Name() string { return "browser" }

// Render navigates to url in a fresh browser and prints or screenshots it.
func (r *Renderer) Render(ctx context.Context, url string, kind capture.Kind, viewport capture.Viewport) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported artifact type %q", capture.ErrValidation, kind)
	}
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	vp := (&viewport).OrDefault()
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions(vp)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer r.closeBrowser(browserCtx, browserCancel, allocCancel)

	events := newLifecycle()
	chromedp.ListenTarget(browserCtx, events.observe)

	setup := chromedp.Tasks{
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	}
	if err := chromedp.Run(browserCtx, setup); err != nil {
		return nil, fmt.Errorf("%w: start browser: %w", capture.ErrRender, err)
	}

	if err := r.load(browserCtx, events, url); err != nil {
		return nil, err
	}

	data, err := r.snapshot(browserCtx, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: capture %s: %w", capture.ErrRender, kind, err)
	}
	return data, nil
}

// load navigates with a network-idle wait and falls back to a DOM-ready wait.
func (r *Renderer) load(ctx context.Context, events *lifecycle, url string) error {
	idleErr := r.navigate(ctx, events, url, EventNetworkIdle)
	if idleErr == nil {
		return r.settle(ctx)
	}
	r.logger.Warn("network idle wait failed, retrying with DOM ready wait",
		zap.String("url", url), zap.Error(idleErr))

	domErr := r.navigate(ctx, events, url, EventDOMContentLoaded)
	if domErr != nil {
		return fmt.Errorf("%w: navigate %s: %s wait: %v; %s wait: %w",
			capture.ErrRender, url, EventNetworkIdle, idleErr, EventDOMContentLoaded, domErr)
	}
	return r.settle(ctx)
}

func (r *Renderer) navigate(ctx context.Context, events *lifecycle, url, until string) error {
	tierCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(tierCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigate: %s", res.ErrorText)
		}
		return events.wait(ctx, res.LoaderID, until)
	}))
	if err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (r *Renderer) settle(ctx context.Context) error {
	if r.cfg.Settle <= 0 {
		return nil
	}
	if err := chromedp.Run(ctx, chromedp.Sleep(r.cfg.Settle)); err != nil {
		return fmt.Errorf("%w: settle: %w", capture.ErrRender, err)
	}
	return nil
}

func (r *Renderer) snapshot(ctx context.Context, kind capture.Kind) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	switch kind {
	case capture.KindPDF:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paperWidthIn).
				WithPaperHeight(paperHeightIn).
				WithMarginTop(marginIn).
				WithMarginBottom(marginIn).
				WithMarginLeft(marginIn).
				WithMarginRight(marginIn).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			buf = data
			return nil
		})
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

func (r *Renderer) allocatorOptions(vp capture.Viewport) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// closeBrowser always releases the browser and allocator. Close failures are
// logged and never replace the render error.
func (r *Renderer) closeBrowser(browserCtx context.Context, browserCancel, allocCancel context.CancelFunc) {
	if err := chromedp.Cancel(browserCtx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("browser close failed", zap.Error(err))
	}
	browserCancel()
	allocCancel()
}

// acquire waits at most NavTimeout for a browser slot.
func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		return fmt.Errorf("%w: wait for browser slot: %w", capture.ErrRender, waitCtx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}
