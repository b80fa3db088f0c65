package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

type staticURL string

func (s staticURL) BaseURL() string { return string(s) }

type phaseEvent struct {
	phase domain.Phase
	issue string
}

type recordingPresenter struct {
	events chan phaseEvent
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{events: make(chan phaseEvent, 32)}
}

func (p *recordingPresenter) Present(phase domain.Phase, issueKey string) {
	p.events <- phaseEvent{phase, issueKey}
}

func (p *recordingPresenter) next(t *testing.T) phaseEvent {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification phase")
		return phaseEvent{}
	}
}

// backend is a fake automation backend counting calls per path
type backend struct {
	mu     sync.Mutex
	calls  map[string]int
	bodies []Request
	status int32
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{calls: make(map[string]int), status: http.StatusOK}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req Request
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		b.calls[r.URL.Path]++
		b.bodies = append(b.bodies, req)
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(atomic.LoadInt32(&b.status)))
		w.Write([]byte(`{"status":"completed"}`))
	}))
	t.Cleanup(ts.Close)
	return b, ts
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func startController(t *testing.T, baseURL string, opts ...Option) (*Controller, *recordingPresenter) {
	t.Helper()
	presenter := newRecordingPresenter()
	c := NewController(NewClient(2*time.Second), staticURL(baseURL), presenter, zerolog.Nop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, presenter
}

// settle sends a sentinel event for an unrelated key and waits for its
// completion. Events are handled in order, so everything queued before it has
// been handled too.
func settle(t *testing.T, c *Controller, p *recordingPresenter, sentinel string) {
	t.Helper()
	c.OnCardEvent(domain.CardEvent{IssueKey: sentinel, Column: domain.ColumnInProgress})
	for {
		ev := p.next(t)
		if ev.issue == sentinel && ev.phase != domain.PhaseStart {
			return
		}
	}
}

func TestController_QADispatchSucceeds(t *testing.T) {
	b, ts := newBackend(t)
	c, p := startController(t, ts.URL)

	c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA})

	assert.Equal(t, phaseEvent{domain.PhaseStart, "PROJ-12"}, p.next(t))
	assert.Equal(t, phaseEvent{domain.PhaseComplete, "PROJ-12"}, p.next(t))
	assert.Equal(t, 1, b.count("/run-tests"))

	b.mu.Lock()
	assert.Equal(t, Request{IssueKey: "PROJ-12", Status: "qa", HasTestedLabel: false}, b.bodies[0])
	b.mu.Unlock()

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-tests:PROJ-12"}, stats.Done)
}

func TestController_InProgressRoutesToSuggestScenarios(t *testing.T) {
	b, ts := newBackend(t)
	c, p := startController(t, ts.URL)

	c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-3", Column: domain.ColumnInProgress})
	p.next(t)
	assert.Equal(t, domain.PhaseComplete, p.next(t).phase)
	assert.Equal(t, 1, b.count("/suggest-scenarios"))
	assert.Equal(t, 0, b.count("/run-tests"))
}

func TestController_TestedMarkerNeverDispatches(t *testing.T) {
	b, ts := newBackend(t)
	c, p := startController(t, ts.URL)

	for i := 0; i < 5; i++ {
		c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA, TestedMarker: true})
	}
	settle(t, c, p, "SENT-1")

	assert.Equal(t, 0, b.count("/run-tests"))
}

func TestController_IdempotentAfterSuccess(t *testing.T) {
	b, ts := newBackend(t)
	c, p := startController(t, ts.URL)

	ev := domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA}
	c.OnCardEvent(ev)
	p.next(t)
	require.Equal(t, domain.PhaseComplete, p.next(t).phase)

	c.OnCardEvent(ev)
	c.OnCardEvent(ev)
	settle(t, c, p, "SENT-1")

	assert.Equal(t, 1, b.count("/run-tests"))
}

func TestController_InFlightDuplicatesDropped(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()
	defer close(release)

	c, p := startController(t, ts.URL)
	ev := domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA}
	c.OnCardEvent(ev)
	require.Equal(t, domain.PhaseStart, p.next(t).phase)
	c.OnCardEvent(ev)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-tests:PROJ-12"}, stats.InFlight)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
}

func TestController_FailureRestoresRetryEligibility(t *testing.T) {
	b, ts := newBackend(t)
	atomic.StoreInt32(&b.status, http.StatusInternalServerError)
	c, p := startController(t, ts.URL)

	ev := domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA}
	c.OnCardEvent(ev)
	p.next(t)
	assert.Equal(t, phaseEvent{domain.PhaseError, "PROJ-12"}, p.next(t))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.Done)
	assert.Empty(t, stats.InFlight)

	atomic.StoreInt32(&b.status, http.StatusOK)
	c.OnCardEvent(ev)
	p.next(t)
	assert.Equal(t, phaseEvent{domain.PhaseComplete, "PROJ-12"}, p.next(t))
	assert.Equal(t, 2, b.count("/run-tests"))
}

func TestController_NetworkErrorScenario(t *testing.T) {
	// Nothing listens here, so the POST fails at the transport level
	ts := httptest.NewServer(http.NotFoundHandler())
	deadURL := ts.URL
	ts.Close()

	var records []domain.Dispatch
	var mu sync.Mutex
	c, p := startController(t, deadURL, WithListener(ListenerFunc(func(d domain.Dispatch) {
		mu.Lock()
		records = append(records, d)
		mu.Unlock()
	})))

	ev := domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA}
	c.OnCardEvent(ev)
	p.next(t)
	assert.Equal(t, phaseEvent{domain.PhaseError, "PROJ-12"}, p.next(t))

	// The next scan re-triggers the dispatch
	c.OnCardEvent(ev)
	assert.Equal(t, phaseEvent{domain.PhaseStart, "PROJ-12"}, p.next(t))
	assert.Equal(t, domain.PhaseError, p.next(t).phase)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 4)
	assert.Equal(t, domain.DispatchStarted, records[0].Status)
	assert.Equal(t, domain.DispatchFailed, records[1].Status)
	assert.NotEmpty(t, records[1].Error)
	assert.Equal(t, records[0].ID, records[1].ID)
	assert.NotEqual(t, records[1].ID, records[2].ID)
}

func TestController_UnparsableBodyIsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	defer ts.Close()
	c, p := startController(t, ts.URL)

	c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-1", Column: domain.ColumnQA})
	p.next(t)
	assert.Equal(t, domain.PhaseError, p.next(t).phase)
}

func TestController_ColumnsDedupIndependently(t *testing.T) {
	b, ts := newBackend(t)
	c, p := startController(t, ts.URL)

	c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-7", Column: domain.ColumnInProgress})
	p.next(t)
	p.next(t)
	c.OnCardEvent(domain.CardEvent{IssueKey: "PROJ-7", Column: domain.ColumnQA})
	p.next(t)
	assert.Equal(t, domain.PhaseComplete, p.next(t).phase)

	assert.Equal(t, 1, b.count("/suggest-scenarios"))
	assert.Equal(t, 1, b.count("/run-tests"))
}

type mutableURL struct {
	mu  sync.Mutex
	url string
}

func (m *mutableURL) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func TestController_ReadsBaseURLAtCallTime(t *testing.T) {
	first, ts1 := newBackend(t)
	second, ts2 := newBackend(t)
	src := &mutableURL{url: ts1.URL}

	presenter := newRecordingPresenter()
	c := NewController(NewClient(time.Second), src, presenter, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.OnCardEvent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})
	presenter.next(t)
	presenter.next(t)

	src.mu.Lock()
	src.url = ts2.URL
	src.mu.Unlock()

	c.OnCardEvent(domain.CardEvent{IssueKey: "A-2", Column: domain.ColumnQA})
	presenter.next(t)
	presenter.next(t)

	assert.Equal(t, 1, first.count("/run-tests"))
	assert.Equal(t, 1, second.count("/run-tests"))
}

func TestController_StatsAfterStop(t *testing.T) {
	c := NewController(NewClient(time.Second), staticURL("http://unused"), newRecordingPresenter(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := c.Stats(context.Background())
	assert.Error(t, err)
	// Must not block once stopped
	c.OnCardEvent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})
}

// blockingPresenter holds every Present call until release is closed
type blockingPresenter struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingPresenter) Present(domain.Phase, string) {
	p.calls.Add(1)
	<-p.release
}

func TestController_SlowPresenterDoesNotStallDispatch(t *testing.T) {
	b, ts := newBackend(t)
	presenter := &blockingPresenter{release: make(chan struct{})}
	c := NewController(NewClient(2*time.Second), staticURL(ts.URL), presenter, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		close(presenter.release)
		cancel()
		<-done
	})

	c.OnCardEvent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})
	c.OnCardEvent(domain.CardEvent{IssueKey: "B-2", Column: domain.ColumnQA})

	require.Eventually(t, func() bool { return b.count("/run-tests") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), presenter.calls.Load(), "presenter is still stuck on the first phase")

	require.Eventually(t, func() bool {
		stats, err := c.Stats(context.Background())
		return err == nil && len(stats.Done) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestController_LargeReplyIsSuccess(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"log":"` + strings.Repeat("x", 2<<20) + `"}`))
	}))
	t.Cleanup(ts.Close)

	var recorded []domain.Dispatch
	var mu sync.Mutex
	c, p := startController(t, ts.URL, WithListener(ListenerFunc(func(d domain.Dispatch) {
		mu.Lock()
		recorded = append(recorded, d)
		mu.Unlock()
	})))

	c.OnCardEvent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})
	assert.Equal(t, phaseEvent{domain.PhaseStart, "A-1"}, p.next(t))
	assert.Equal(t, phaseEvent{domain.PhaseComplete, "A-1"}, p.next(t))

	// Still done, so a rescan does not fire again
	c.OnCardEvent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-tests:A-1"}, stats.Done)
	assert.Equal(t, int32(1), calls.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 2)
	assert.Equal(t, domain.DispatchSucceeded, recorded[1].Status)
	assert.Len(t, recorded[1].Response, maxResponseBytes)
}
