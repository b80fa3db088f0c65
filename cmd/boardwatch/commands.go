package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/boardwatch/internal/board"
	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
)

var (
	boardURL    string
	boardFile   string
	connectURL  string
	scanColumns []string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch a board and dispatch from one process",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&boardURL, "url", "", "board url (default jira.board_url)")
	runCmd.Flags().StringVar(&boardFile, "file", "", "watch an HTML snapshot instead of a browser tab")
	rootCmd.AddCommand(runCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch side with the websocket bridge and status API",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the page side, sending card events to a serve process",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&boardURL, "url", "", "board url (default jira.board_url)")
	watchCmd.Flags().StringVar(&boardFile, "file", "", "watch an HTML snapshot instead of a browser tab")
	watchCmd.Flags().StringVar(&connectURL, "connect", "", "bridge websocket url (default ws://<bridge.listen>/ws)")
	rootCmd.AddCommand(watchCmd)

	// scan command
	scanCmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Scan an HTML snapshot once and print the card events",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}
	scanCmd.Flags().StringSliceVar(&scanColumns, "column", nil, "limit to columns (qa, in-progress)")
	rootCmd.AddCommand(scanCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	pagePort, backgroundPort := bridge.NewPipe(64)

	bg, err := newBackground(cfg, backgroundPort, log)
	if err != nil {
		return err
	}
	defer bg.Close()

	p, closer, err := openPage(ctx, cfg, boardURL, boardFile, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	g, gctx := errgroup.WithContext(ctx)
	bg.start(gctx, g)
	w := newWatcher(cfg, p, pagePort, log)
	g.Go(func() error { return w.Run(gctx) })

	log.Info().Str("backend", bg.settings.BaseURL()).Str("api", cfg.Bridge.Listen).Msg("boardwatch running")
	return g.Wait()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	server := bridge.NewServer(bridge.ServerConfig{}, log)
	defer server.Close()

	bg, err := newBackground(cfg, server, log)
	if err != nil {
		return err
	}
	defer bg.Close()
	bg.api.Handle("/ws", server)

	g, gctx := errgroup.WithContext(ctx)
	bg.start(gctx, g)

	log.Info().
		Str("backend", bg.settings.BaseURL()).
		Str("bridge", fmt.Sprintf("ws://%s/ws", cfg.Bridge.Listen)).
		Msg("waiting for pages")
	return g.Wait()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	url := connectURL
	if url == "" {
		url = fmt.Sprintf("ws://%s/ws", cfg.Bridge.Listen)
	}
	client, err := bridge.Dial(ctx, url, log)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer client.Close()

	p, closer, err := openPage(ctx, cfg, boardURL, boardFile, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Info().Str("bridge", url).Msg("watching board")
	return newWatcher(cfg, p, client, log).Run(ctx)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	var only []domain.Column
	for _, c := range scanColumns {
		col, err := domain.ParseColumn(c)
		if err != nil {
			return err
		}
		only = append(only, col)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := board.ParseHTML(f)
	if err != nil {
		return err
	}
	events := board.NewScanner(board.NewClassifier(), log).ScanColumns(doc, only...)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tCOLUMN\tOPERATION\tTESTED")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", ev.IssueKey, ev.Column.Label(), ev.Column.Operation(), ev.TestedMarker)
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d card(s) in tracked columns\n", len(events))
	return nil
}
