package page

import (
	"context"
	"fmt"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const mutationBinding = "__boardwatchMutated"

// observerScript reports DOM changes under body through the runtime binding.
// It is installed for every new document and evaluated once for the current
// one, so it must be idempotent.
const observerScript = `(() => {
  if (window.__boardwatchObserver) return;
  const report = () => { try { window.` + mutationBinding + `(""); } catch (e) {} };
  const start = () => {
    window.__boardwatchObserver = new MutationObserver(report);
    window.__boardwatchObserver.observe(document.body, { childList: true, subtree: true });
  };
  if (document.body) start(); else document.addEventListener("DOMContentLoaded", start);
})();`

// ChromeOptions configures the browser showing the board
type ChromeOptions struct {
	URL         string
	Headless    bool
	UserDataDir string // Persistent profile so the Jira login survives restarts
	ExecPath    string
	LoadTimeout time.Duration
}

// Chrome is a board open in a Chrome tab
type Chrome struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mutations chan struct{}
	loads     chan struct{}
}

// LaunchChrome starts Chrome, opens opts.URL and installs the mutation
// observer
func LaunchChrome(ctx context.Context, opts ChromeOptions, log zerolog.Logger) (*Chrome, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("board url is required")
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = time.Minute
	}
	log = log.With().Str("component", "page").Str("url", opts.URL).Logger()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug().Msgf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			log.Warn().Msgf(format, args...)
		}),
	)

	c := &Chrome{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		log:       log,
		mutations: make(chan struct{}, 1),
		loads:     make(chan struct{}, 1),
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventBindingCalled:
			if ev.Name == mutationBinding {
				signal(c.mutations)
			}
		case *cdppage.EventLoadEventFired:
			signal(c.loads)
		}
	})

	// The first Run starts the browser process and ties it to the context it
	// is given, so it must not carry the load timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		c.cancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	loadCtx, loadCancel := context.WithTimeout(tabCtx, opts.LoadTimeout)
	defer loadCancel()
	err := chromedp.Run(loadCtx,
		runtime.AddBinding(mutationBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(observerScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(observerScript, nil),
	)
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("opening board: %w", err)
	}
	log.Info().Msg("board opened")
	return c, nil
}

// HTML returns the serialized document
func (c *Chrome) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := c.bound(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading board html: %w", err)
	}
	return html, nil
}

// bound derives a tab context that is also cancelled with ctx
func (c *Chrome) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (c *Chrome) Mutations() <-chan struct{} { return c.mutations }
func (c *Chrome) Loads() <-chan struct{}     { return c.loads }

// Close shuts the browser down
func (c *Chrome) Close() error {
	c.cancel()
	return nil
}
