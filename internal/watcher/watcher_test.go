package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/boardwatch/internal/board"
	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
)

const fixture = `<html><body>
<div data-testid="platform-board-kit.ui.column.draggable-column">
  <h2 data-testid="column-name">In Progress</h2>
  <div data-testid="platform-board-kit.ui.card.card" data-issue-key="PROJ-1"><span>Build API</span></div>
</div>
<div data-testid="platform-board-kit.ui.column.draggable-column">
  <h2 data-testid="column-name">QA</h2>
  <div data-testid="platform-board-kit.ui.card.card" data-issue-key="PROJ-12"><span>Login</span></div>
  <div data-testid="platform-board-kit.ui.card.card" data-issue-key="PROJ-13"><span class="lozenge">tested</span></div>
</div>
</body></html>`

type fakePage struct {
	mu        sync.Mutex
	html      string
	err       error
	reads     int
	mutations chan struct{}
	loads     chan struct{}
}

func newFakePage(html string) *fakePage {
	return &fakePage{
		html:      html,
		mutations: make(chan struct{}, 1),
		loads:     make(chan struct{}, 1),
	}
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.html, p.err
}

func (p *fakePage) Mutations() <-chan struct{} { return p.mutations }
func (p *fakePage) Loads() <-chan struct{}     { return p.loads }

func (p *fakePage) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePage) mutate() {
	select {
	case p.mutations <- struct{}{}:
	default:
	}
}

func startWatcher(t *testing.T, page Page, debounce time.Duration) (*Watcher, bridge.Port) {
	t.Helper()
	pagePort, background := bridge.NewPipe(32)
	w := New(page, board.NewScanner(nil, zerolog.Nop()), pagePort, debounce, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, background
}

func receiveEvents(t *testing.T, port bridge.Port, n int) []domain.CardEvent {
	t.Helper()
	var out []domain.CardEvent
	for len(out) < n {
		select {
		case msg := <-port.Receive():
			ev, err := msg.CardEvent()
			require.NoError(t, err)
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	return out
}

func assertQuiet(t *testing.T, port bridge.Port, d time.Duration) {
	t.Helper()
	select {
	case msg := <-port.Receive():
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(d):
	}
}

func TestWatcher_InitialScanInDocumentOrder(t *testing.T) {
	page := newFakePage(fixture)
	_, background := startWatcher(t, page, 50*time.Millisecond)

	events := receiveEvents(t, background, 3)
	assert.Equal(t, []domain.CardEvent{
		{IssueKey: "PROJ-1", Column: domain.ColumnInProgress},
		{IssueKey: "PROJ-12", Column: domain.ColumnQA},
		{IssueKey: "PROJ-13", Column: domain.ColumnQA, TestedMarker: true},
	}, events)
}

func TestWatcher_MutationBurstIsDebounced(t *testing.T) {
	page := newFakePage(fixture)
	w, background := startWatcher(t, page, 100*time.Millisecond)
	receiveEvents(t, background, 3)
	require.Eventually(t, func() bool { return w.Scans() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		page.mutate()
		time.Sleep(20 * time.Millisecond)
	}

	// Every scan repeats every card, there is no cross-scan dedup
	receiveEvents(t, background, 3)
	assertQuiet(t, background, 300*time.Millisecond)
	assert.Equal(t, 2, w.Scans())
	assert.Equal(t, 2, page.readCount())
}

func TestWatcher_ColumnCheckLimitsScan(t *testing.T) {
	page := newFakePage(fixture)
	_, background := startWatcher(t, page, time.Minute)
	receiveEvents(t, background, 3)

	require.NoError(t, background.Send(context.Background(), bridge.CheckColumn(domain.ColumnInProgress)))

	events := receiveEvents(t, background, 1)
	assert.Equal(t, domain.ColumnInProgress, events[0].Column)
	assertQuiet(t, background, 100*time.Millisecond)
}

func TestWatcher_LoadTriggersFullScan(t *testing.T) {
	page := newFakePage(fixture)
	_, background := startWatcher(t, page, time.Minute)
	receiveEvents(t, background, 3)

	page.loads <- struct{}{}
	assert.Len(t, receiveEvents(t, background, 3), 3)
}

func TestWatcher_PageErrorSkipsScan(t *testing.T) {
	page := newFakePage(fixture)
	page.err = errors.New("target closed")
	w, background := startWatcher(t, page, time.Minute)

	assertQuiet(t, background, 100*time.Millisecond)
	assert.Equal(t, 0, w.Scans())

	page.mu.Lock()
	page.err = nil
	page.mu.Unlock()
	page.loads <- struct{}{}
	receiveEvents(t, background, 3)
}

func TestRequest_Coalesces(t *testing.T) {
	w := New(newFakePage(""), board.NewScanner(nil, zerolog.Nop()), nil, 0, zerolog.Nop())
	assert.Equal(t, DefaultDebounce, w.debounce)

	w.request(domain.ColumnQA)
	w.request(domain.ColumnQA)
	w.request(domain.ColumnInProgress)

	assert.Len(t, w.wake, 1)
	assert.False(t, w.pending.all)
	assert.Len(t, w.pending.columns, 2)

	w.request()
	assert.True(t, w.pending.all)
}

// closingPort is a port whose inbound stream the test can end
type closingPort struct {
	in chan bridge.Message
}

func (p *closingPort) Send(ctx context.Context, m bridge.Message) error { return nil }
func (p *closingPort) Receive() <-chan bridge.Message                   { return p.in }

func TestWatcher_ReturnsWhenPortCloses(t *testing.T) {
	port := &closingPort{in: make(chan bridge.Message)}
	w := New(newFakePage(fixture), board.NewScanner(nil, zerolog.Nop()), port, 20*time.Millisecond, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return w.Scans() >= 1 }, 2*time.Second, 10*time.Millisecond)
	close(port.in)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the port closed")
	}
}
