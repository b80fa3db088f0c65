package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/boardwatch/internal/domain"
	"github.com/hochfrequenz/boardwatch/internal/history"
)

// Tab selects which dispatches are listed
type Tab int

const (
	TabAll Tab = iota
	TabFailed
	tabCount
)

// Source supplies dispatch history to the dashboard
type Source interface {
	List(opts history.ListOptions) ([]domain.Dispatch, error)
	Counts() (history.Counts, error)
}

// Model is the dashboard model
type Model struct {
	source  Source
	limit   int
	refresh time.Duration

	// Data
	dispatches []domain.Dispatch
	counts     history.Counts
	err        error

	// UI state
	width       int
	height      int
	activeTab   Tab
	selectedRow int
	showDetail  bool

	lastRefresh time.Time
}

// ModelConfig holds the dashboard settings
type ModelConfig struct {
	Source  Source
	Limit   int
	Refresh time.Duration
}

// NewModel creates a new dashboard model
func NewModel(cfg ModelConfig) Model {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = 2 * time.Second
	}
	return Model{
		source:  cfg.Source,
		limit:   cfg.Limit,
		refresh: cfg.Refresh,
	}
}

// Init loads the first page and starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadCmd(),
		tickCmd(m.refresh),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// LoadedMsg carries freshly read history
type LoadedMsg struct {
	Dispatches []domain.Dispatch
	Counts     history.Counts
	Err        error
	At         time.Time
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) loadCmd() tea.Cmd {
	source, opts := m.source, m.listOptions()
	return func() tea.Msg {
		if source == nil {
			return LoadedMsg{At: time.Now()}
		}
		dispatches, err := source.List(opts)
		if err != nil {
			return LoadedMsg{Err: err, At: time.Now()}
		}
		counts, err := source.Counts()
		return LoadedMsg{Dispatches: dispatches, Counts: counts, Err: err, At: time.Now()}
	}
}

func (m Model) listOptions() history.ListOptions {
	opts := history.ListOptions{Limit: m.limit}
	if m.activeTab == TabFailed {
		opts.Status = domain.DispatchFailed
	}
	return opts
}

// Selected returns the highlighted dispatch
func (m Model) Selected() (domain.Dispatch, bool) {
	if m.selectedRow < 0 || m.selectedRow >= len(m.dispatches) {
		return domain.Dispatch{}, false
	}
	return m.dispatches[m.selectedRow], true
}
