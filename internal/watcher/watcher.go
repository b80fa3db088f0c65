// Package watcher drives board scans from page loads, DOM mutations and
// rescan requests, and forwards the resulting card events to the background
// side.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/board"
	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// DefaultDebounce is the quiet period after the last mutation before a rescan
const DefaultDebounce = 500 * time.Millisecond

// Page is a live board document
type Page interface {
	// HTML returns the current serialized document
	HTML(ctx context.Context) (string, error)
	// Mutations signals DOM changes. Bursts may be coalesced.
	Mutations() <-chan struct{}
	// Loads signals completed page loads
	Loads() <-chan struct{}
}

// request is a pending scan. all wins over a column subset.
type request struct {
	all     bool
	columns map[domain.Column]struct{}
}

func (r request) empty() bool {
	return !r.all && len(r.columns) == 0
}

// Watcher scans a Page and sends one triggerAgent message per card event
type Watcher struct {
	page     Page
	scanner  *board.Scanner
	port     bridge.Port
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending request
	timer   *time.Timer
	wake    chan struct{}
	scans   int
}

// New creates a watcher. A zero debounce uses DefaultDebounce.
func New(page Page, scanner *board.Scanner, port bridge.Port, debounce time.Duration, log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		page:     page,
		scanner:  scanner,
		port:     port,
		debounce: debounce,
		log:      log.With().Str("component", "watcher").Logger(),
		wake:     make(chan struct{}, 1),
	}
}

// Run scans once immediately, then on every trigger until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.scanLoop(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()
	defer w.stopTimer()

	w.request()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.page.Loads():
			w.log.Debug().Msg("page loaded")
			w.request()
		case <-w.page.Mutations():
			w.resetTimer()
		case msg, ok := <-w.port.Receive():
			if !ok {
				w.log.Warn().Msg("background port closed")
				return nil
			}
			col, ok := msg.RequestedColumn()
			if !ok {
				w.log.Debug().Str("action", string(msg.Action)).Msg("ignoring background-bound message")
				continue
			}
			w.log.Debug().Str("column", string(col)).Msg("column check requested")
			w.request(col)
		}
	}
}

// Scans returns how many scans have completed
func (w *Watcher) Scans() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scans
}

// request records a pending scan of cols, or of every tracked column when
// none are given, and wakes the scan loop
func (w *Watcher) request(cols ...domain.Column) {
	w.mu.Lock()
	if len(cols) == 0 {
		w.pending.all = true
	} else {
		if w.pending.columns == nil {
			w.pending.columns = make(map[domain.Column]struct{})
		}
		for _, c := range cols {
			w.pending.columns[c] = struct{}{}
		}
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher) resetTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.request() })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) scanLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.mu.Lock()
			req := w.pending
			w.pending = request{}
			w.mu.Unlock()
			if req.empty() {
				continue
			}
			w.scan(ctx, req)
		}
	}
}

func (w *Watcher) scan(ctx context.Context, req request) {
	start := time.Now()
	html, err := w.page.HTML(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("reading page")
		return
	}
	doc, err := board.ParseHTMLString(html)
	if err != nil {
		w.log.Warn().Err(err).Msg("parsing page")
		return
	}

	var events []domain.CardEvent
	if req.all {
		events = w.scanner.Scan(doc)
	} else {
		cols := make([]domain.Column, 0, len(req.columns))
		for c := range req.columns {
			cols = append(cols, c)
		}
		events = w.scanner.ScanColumns(doc, cols...)
	}

	sent := 0
	for _, ev := range events {
		if err := w.port.Send(ctx, bridge.TriggerAgent(ev)); err != nil {
			w.log.Warn().Err(err).Str("issue", ev.IssueKey).Msg("sending card event")
			if ctx.Err() != nil {
				return
			}
			continue
		}
		sent++
	}

	w.mu.Lock()
	w.scans++
	w.mu.Unlock()
	w.log.Debug().Int("cards", sent).Bool("full", req.all).Dur("took", time.Since(start)).Msg("scan complete")
}
