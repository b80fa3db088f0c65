package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		case "j", "down":
			if m.selectedRow < len(m.dispatches)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
			m.showDetail = false
			return m, m.loadCmd()
		case "enter":
			if _, ok := m.Selected(); ok {
				m.showDetail = !m.showDetail
			}
		case "esc":
			m.showDetail = false
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.loadCmd(), tickCmd(m.refresh))

	case LoadedMsg:
		m.lastRefresh = msg.At
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.dispatches = msg.Dispatches
		m.counts = msg.Counts
		if m.selectedRow >= len(m.dispatches) {
			m.selectedRow = max(len(m.dispatches)-1, 0)
		}
		if len(m.dispatches) == 0 {
			m.showDetail = false
		}
	}

	return m, nil
}
