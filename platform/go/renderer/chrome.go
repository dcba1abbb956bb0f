package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
	Healthy() bool
	Close() error
}

// ChromeConfig configures headless Chrome instances.
type ChromeConfig struct {
	// ExecPath overrides chromedp's binary discovery when set.
	ExecPath string
}

// Chrome is one headless browser process. Each render opens and closes its own tab.
type Chrome struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	broken        atomic.Bool
}

var _ Renderer = (*Chrome)(nil)

// LaunchChrome starts a headless browser. The process outlives ctx; ctx only bounds startup.
func LaunchChrome(ctx context.Context, cfg ChromeConfig) (*Chrome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	}

	return &Chrome{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// RenderPDF loads html into a fresh tab, waits for the document and its fonts to settle, and prints it.
func (c *Chrome) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var (
		ready bool
		pdf   []byte
	)
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.Poll(`document.readyState === "complete" && document.fonts.status === "loaded"`, &ready),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if c.browserCtx.Err() != nil || !errors.Is(err, context.Canceled) {
			c.broken.Store(true)
		}
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return pdf, nil
}

// Healthy reports whether the browser process is still usable.
func (c *Chrome) Healthy() bool {
	return !c.broken.Load() && c.browserCtx.Err() == nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.browserCtx)
	c.cancelBrowser()
	c.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// NewChromePool builds a renderer pool backed by headless Chrome. Sizing fields of cfg are honoured; the lifecycle hooks are supplied here.
func NewChromePool(ctx context.Context, chrome ChromeConfig, cfg PoolConfig[Renderer], logger *zap.Logger) (*Pool[Renderer], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Factory = func(ctx context.Context) (Renderer, error) {
		c, err := LaunchChrome(ctx, chrome)
		if err != nil {
			return nil, err
		}
		logger.Debug("chrome renderer launched")
		return c, nil
	}
	cfg.Destroy = func(r Renderer) {
		if err := r.Close(); err != nil {
			logger.Warn("chrome renderer close failed", zap.Error(err))
		}
	}
	cfg.Healthy = func(r Renderer) bool { return r.Healthy() }
	return NewPool(ctx, cfg, logger)
}
