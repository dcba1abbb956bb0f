package renderer

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func chromeBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping chrome rendering in short mode")
	}
	if path := os.Getenv("RENDER_CHROME_PATH"); path != "" {
		return path
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no chrome binary available")
	return ""
}

func TestChromeRendersPDF(t *testing.T) {
	path := chromeBinary(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewChromePool(ctx, ChromeConfig{ExecPath: path}, PoolConfig[Renderer]{MinSize: 1, MaxSize: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	pdf, err := lease.Value().RenderPDF(ctx, `<html><body><h1>Quarterly report</h1><p>Totals</p></body></html>`)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	require.True(t, lease.Value().Healthy())
}

func TestChromeRenderHonoursDeadline(t *testing.T) {
	path := chromeBinary(t)

	launchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chrome, err := LaunchChrome(launchCtx, ChromeConfig{ExecPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = chrome.Close() })

	ctx, cancelRender := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelRender()
	time.Sleep(2 * time.Millisecond)

	_, err = chrome.RenderPDF(ctx, `<html><body>late</body></html>`)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, chrome.Healthy())
}
