package page

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("no %s signal", what)
	}
}

func TestFile_HTMLAndMutations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>v1</body></html>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, err := OpenFile(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	html, err := f.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "v1")

	require.NoError(t, os.WriteFile(path, []byte("<html><body>v2</body></html>"), 0o644))
	waitSignal(t, f.Mutations(), "mutation")

	html, err = f.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "v2")
}

func TestFile_ReplaceIsLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.html")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, err := OpenFile(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	tmp := filepath.Join(dir, "board.html.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	waitSignal(t, f.Loads(), "load")
}

func TestFile_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.html")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, err := OpenFile(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.html"), []byte("y"), 0o644))
	select {
	case <-f.Mutations():
		t.Fatal("sibling write reported as mutation")
	case <-f.Loads():
		t.Fatal("sibling write reported as load")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(context.Background(), filepath.Join(t.TempDir(), "missing.html"), zerolog.Nop())
	assert.Error(t, err)
}

func TestLaunchChrome_RequiresURL(t *testing.T) {
	_, err := LaunchChrome(context.Background(), ChromeOptions{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestObserverScript(t *testing.T) {
	assert.True(t, strings.Contains(observerScript, "window."+mutationBinding+"("))
	assert.Contains(t, observerScript, "subtree: true")
}

func chromeBinary(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestLaunchChrome_BrowserOutlivesLaunch(t *testing.T) {
	execPath := chromeBinary(t)

	board := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div data-issue-key="PROJ-12">PROJ-12</div></body></html>`)
	}))
	defer board.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := LaunchChrome(ctx, ChromeOptions{
		URL:         board.URL,
		Headless:    true,
		UserDataDir: t.TempDir(),
		ExecPath:    execPath,
		LoadTimeout: 30 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	// The load timeout context is gone by now; the tab must still answer
	time.Sleep(200 * time.Millisecond)
	html, err := c.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `data-issue-key="PROJ-12"`)

	require.NoError(t, chromedp.Run(c.ctx, chromedp.Evaluate(
		`document.body.appendChild(document.createElement("div"))`, nil)))
	select {
	case <-c.Mutations():
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation reported")
	}
}
