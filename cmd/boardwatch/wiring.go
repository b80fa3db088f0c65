package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/boardwatch/internal/board"
	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/config"
	"github.com/hochfrequenz/boardwatch/internal/dispatch"
	"github.com/hochfrequenz/boardwatch/internal/domain"
	"github.com/hochfrequenz/boardwatch/internal/history"
	"github.com/hochfrequenz/boardwatch/internal/logging"
	"github.com/hochfrequenz/boardwatch/internal/notify"
	"github.com/hochfrequenz/boardwatch/internal/page"
	"github.com/hochfrequenz/boardwatch/internal/schedule"
	"github.com/hochfrequenz/boardwatch/internal/watcher"
	"github.com/hochfrequenz/boardwatch/web/api"
)

func resolvedConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// background is the dispatching side: controller, notifications, history,
// status API and rescan schedule around one bridge port
type background struct {
	settings   *config.Settings
	controller *dispatch.Controller
	router     *dispatch.Router
	presenter  *notify.Presenter
	history    *history.Store
	api        *api.Server
	rescanner  *schedule.Rescanner
	log        zerolog.Logger
}

func newBackground(cfg *config.Config, port bridge.Port, log zerolog.Logger) (*background, error) {
	b := &background{
		settings: config.NewSettings(cfg),
		log:      log,
	}

	store, err := history.New(cfg.History.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	b.history = store

	desktop := notify.NewDesktopNotifier(cfg.Notifications.Desktop)
	sinks := notify.NewMultiNotifier(desktop, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	b.presenter = notify.NewPresenter(sinks, b.settings, notify.SystemOpener{}, cfg.Notifications.Icon, log)
	desktop.OnActivate(func(id string) {
		if err := b.presenter.Activate(id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("notification click")
		}
	})

	b.controller = dispatch.NewController(
		dispatch.NewClient(cfg.Backend.Timeout.Duration),
		b.settings,
		b.presenter,
		log,
		dispatch.WithListener(store),
		dispatch.WithListener(dispatch.ListenerFunc(func(d domain.Dispatch) { b.api.OnDispatch(d) })),
	)
	b.api = api.NewServer(cfg.Bridge.Listen, store, b.controller, port, log)
	b.router = dispatch.NewRouter(port, b.controller, log)

	if cfg.Watcher.RescanCron != "" {
		b.rescanner, err = schedule.NewRescanner(cfg.Watcher.RescanCron, port, log)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	return b, nil
}

// start runs every background loop in g
func (b *background) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return b.controller.Run(ctx) })
	g.Go(func() error { return b.router.Run(ctx) })
	g.Go(func() error { return b.api.Start(ctx) })
	g.Go(func() error {
		if err := b.settings.Watch(ctx, resolvedConfigPath(), b.log); err != nil {
			// Settings stay at their startup values
			b.log.Warn().Err(err).Msg("config reload disabled")
		}
		return nil
	})
	if b.rescanner != nil {
		g.Go(func() error { return b.rescanner.Run(ctx) })
	}
}

func (b *background) Close() error {
	return b.history.Close()
}

// openPage opens the live board, or a snapshot file when path is set
func openPage(ctx context.Context, cfg *config.Config, url, path string, log zerolog.Logger) (watcher.Page, io.Closer, error) {
	if path != "" {
		f, err := page.OpenFile(ctx, path, log)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
	if url == "" {
		url = cfg.Jira.BoardURL
	}
	if url == "" {
		return nil, nil, fmt.Errorf("no board: pass --url or --file, or set jira.board_url")
	}
	c, err := page.LaunchChrome(ctx, page.ChromeOptions{
		URL:         url,
		Headless:    cfg.Browser.Headless,
		UserDataDir: cfg.Browser.UserDataDir,
		ExecPath:    cfg.Browser.ExecPath,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func newWatcher(cfg *config.Config, p watcher.Page, port bridge.Port, log zerolog.Logger) *watcher.Watcher {
	scanner := board.NewScanner(board.NewClassifier(), log)
	return watcher.New(p, scanner, port, cfg.Watcher.Debounce.Duration, log)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log)
}
