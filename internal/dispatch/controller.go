package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// Presenter shows the outcome of a dispatch phase to the user
type Presenter interface {
	Present(phase domain.Phase, issueKey string)
}

// Listener observes dispatch records as they start and finish
type Listener interface {
	OnDispatch(d domain.Dispatch)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(d domain.Dispatch)

func (f ListenerFunc) OnDispatch(d domain.Dispatch) { f(d) }

// BaseURLSource supplies the backend base url at call time
type BaseURLSource interface {
	BaseURL() string
}

type keyState int

const (
	stateDispatching keyState = iota + 1
	stateDone
)

// dedupKey scopes session dedup to one backend operation, so a card moving
// from In Progress to QA triggers both routes once.
type dedupKey struct {
	op    domain.Operation
	issue string
}

type notice struct {
	phase domain.Phase
	issue string
}

type result struct {
	key      dedupKey
	dispatch domain.Dispatch
	resp     *Response
	err      error
}

// Stats is a point-in-time view of the session dedup set
type Stats struct {
	InFlight []string `json:"in_flight"`
	Done     []string `json:"done"`
}

// Controller receives card events and dispatches each (operation, issue)
// pair to the backend at most once per process lifetime. All session state
// is owned by the Run loop; backend calls run in their own goroutines and
// report back to the loop.
type Controller struct {
	client    *Client
	settings  BaseURLSource
	presenter Presenter
	listeners []Listener
	log       zerolog.Logger

	events  chan domain.CardEvent
	notices chan notice
	results chan result
	queries chan func()
	stopped chan struct{}

	// owned by Run
	dispatched map[dedupKey]keyState
}

// Option configures a Controller
type Option func(*Controller)

// WithListener registers a dispatch listener
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, l) }
}

// WithQueueSize sets how many events may wait for the loop
func WithQueueSize(n int) Option {
	return func(c *Controller) { c.events = make(chan domain.CardEvent, n) }
}

// NewController creates a controller. Call Run to start processing.
func NewController(client *Client, settings BaseURLSource, presenter Presenter, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		client:     client,
		settings:   settings,
		presenter:  presenter,
		log:        log.With().Str("component", "dispatch").Logger(),
		events:     make(chan domain.CardEvent, 64),
		notices:    make(chan notice, 256),
		results:    make(chan result),
		queries:    make(chan func()),
		stopped:    make(chan struct{}),
		dispatched: make(map[dedupKey]keyState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnCardEvent queues ev for the loop. Events are handled in arrival order;
// the outcome is reported through the presenter.
func (c *Controller) OnCardEvent(ev domain.CardEvent) {
	select {
	case c.events <- ev:
	case <-c.stopped:
		c.log.Debug().Str("issue", ev.IssueKey).Msg("controller stopped, dropping event")
	}
}

// Run processes events until ctx is done. Backend calls still in flight at
// that point are cancelled and their outcome is discarded.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	go c.presentLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				c.log.Debug().Err(err).Str("issue", ev.IssueKey).Str("column", string(ev.Column)).Msg("event dropped")
			}
		case r := <-c.results:
			c.finish(r)
		case q := <-c.queries:
			q()
		}
	}
}

// Stats returns the current dedup set, sorted by issue key
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	query := func() {
		var s Stats
		for k, state := range c.dispatched {
			name := string(k.op) + ":" + k.issue
			if state == stateDispatching {
				s.InFlight = append(s.InFlight, name)
			} else {
				s.Done = append(s.Done, name)
			}
		}
		sort.Strings(s.InFlight)
		sort.Strings(s.Done)
		reply <- s
	}
	select {
	case c.queries <- query:
	case <-c.stopped:
		return Stats{}, errors.New("controller stopped")
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	return <-reply, nil
}

func (c *Controller) handle(ctx context.Context, ev domain.CardEvent) error {
	if ev.TestedMarker {
		return skipped(SkipTested)
	}

	op := ev.Column.Operation()
	key := dedupKey{op: op, issue: ev.IssueKey}
	switch c.dispatched[key] {
	case stateDispatching:
		return skipped(SkipInFlight)
	case stateDone:
		return skipped(SkipDone)
	}
	c.dispatched[key] = stateDispatching

	d := domain.Dispatch{
		ID:        uuid.NewString(),
		IssueKey:  ev.IssueKey,
		Column:    ev.Column,
		Operation: op,
		Status:    domain.DispatchStarted,
		StartedAt: time.Now(),
	}
	baseURL := c.settings.BaseURL()
	c.log.Info().
		Str("issue", ev.IssueKey).
		Str("operation", string(op)).
		Str("attempt", d.ID).
		Str("backend", baseURL).
		Msg("dispatching")
	c.emit(d)
	c.present(domain.PhaseStart, ev.IssueKey)

	go func() {
		resp, err := c.client.Post(ctx, baseURL, ev)
		select {
		case c.results <- result{key: key, dispatch: d, resp: resp, err: err}:
		case <-c.stopped:
		}
	}()
	return nil
}

func (c *Controller) finish(r result) {
	d := r.dispatch
	now := time.Now()
	d.FinishedAt = &now

	log := c.log.With().
		Str("issue", d.IssueKey).
		Str("operation", string(d.Operation)).
		Str("attempt", d.ID).
		Dur("took", d.Duration()).
		Logger()

	if r.err != nil {
		// Make the card eligible again on a later scan
		delete(c.dispatched, r.key)
		d.Status = domain.DispatchFailed
		d.Error = r.err.Error()
		var te *TransportError
		if errors.As(r.err, &te) {
			d.StatusCode = te.StatusCode
			d.Response = te.Body
		}
		log.Warn().Err(r.err).Msg("dispatch failed")
		c.emit(d)
		c.present(domain.PhaseError, d.IssueKey)
		return
	}

	c.dispatched[r.key] = stateDone
	d.Status = domain.DispatchSucceeded
	d.StatusCode = r.resp.StatusCode
	d.Response = string(r.resp.Body)
	event := log.Info().Int("status", r.resp.StatusCode)
	if r.resp.Truncated {
		event = event.Str("response", d.Response).Bool("truncated", true)
	} else {
		event = event.RawJSON("response", r.resp.Body)
	}
	event.Msg("dispatch complete")
	c.emit(d)
	c.present(domain.PhaseComplete, d.IssueKey)
}

// present queues a phase for the presenter. The loop never waits on a
// notification sink; when the queue is full the phase is dropped.
func (c *Controller) present(phase domain.Phase, issueKey string) {
	select {
	case c.notices <- notice{phase: phase, issue: issueKey}:
	default:
		c.log.Warn().Str("issue", issueKey).Str("phase", string(phase)).Msg("notification queue full, dropping")
	}
}

// presentLoop delivers queued phases in order
func (c *Controller) presentLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.notices:
			c.presenter.Present(n.phase, n.issue)
		}
	}
}

func (c *Controller) emit(d domain.Dispatch) {
	for _, l := range c.listeners {
		l.OnDispatch(d)
	}
}
