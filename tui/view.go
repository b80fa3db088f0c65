package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	succeededStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	startedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" boardwatch │ Dispatches: %s │ Succeeded: %s │ Failed: %s │ In flight: %s ",
		humanize.Comma(int64(m.counts.Total())),
		humanize.Comma(int64(m.counts.Succeeded)),
		humanize.Comma(int64(m.counts.Failed)),
		humanize.Comma(int64(m.counts.Started)))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	section := m.renderDispatches()
	if m.showDetail {
		section = m.renderDetail()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"All", "Failed"}
	tabs := make([]string, len(names))
	for i, name := range names {
		if Tab(i) == m.activeTab {
			tabs[i] = tabActiveStyle.Render(name)
		} else {
			tabs[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderDispatches() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("DISPATCHES"))
	b.WriteString("\n")

	if len(m.dispatches) == 0 {
		b.WriteString(dimmedStyle.Render("No dispatches recorded"))
		return b.String()
	}

	// Leave room for header, tabs, borders and status bar
	maxVisible := m.height - 8
	if maxVisible < 3 {
		maxVisible = 3
	}
	start := 0
	if m.selectedRow >= maxVisible {
		start = m.selectedRow - maxVisible + 1
	}
	end := min(start+maxVisible, len(m.dispatches))

	for i := start; i < end; i++ {
		line := formatLine(m.dispatches[i])
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderDetail() string {
	d, ok := m.Selected()
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s → %s", d.IssueKey, d.Operation)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Attempt:  %s\n", d.ID)
	fmt.Fprintf(&b, "Column:   %s\n", d.Column.Label())
	fmt.Fprintf(&b, "Status:   %s\n", statusBadge(d.Status))
	fmt.Fprintf(&b, "Started:  %s (%s)\n", d.StartedAt.Format(time.RFC3339), humanize.Time(d.StartedAt))
	if d.FinishedAt != nil {
		fmt.Fprintf(&b, "Took:     %s\n", formatDuration(d.Duration()))
	}
	if d.StatusCode != 0 {
		fmt.Fprintf(&b, "HTTP:     %d\n", d.StatusCode)
	}
	if d.Error != "" {
		b.WriteString("Error:    " + failedStyle.Render(d.Error) + "\n")
	}
	if d.Response != "" {
		b.WriteString("\n" + dimmedStyle.Render("Response") + "\n")
		b.WriteString(truncate(d.Response, max(m.width*4, 200)))
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	help := "tab: switch │ j/k: move │ enter: details │ r: refresh │ q: quit"
	if m.err != nil {
		return failedStyle.Render(" error: "+m.err.Error()) + "  " + dimmedStyle.Render(help)
	}
	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = m.lastRefresh.Format("15:04:05")
	}
	return dimmedStyle.Render(fmt.Sprintf(" refreshed %s │ %s", refreshed, help))
}

func formatLine(d domain.Dispatch) string {
	took := "…"
	if d.FinishedAt != nil {
		took = formatDuration(d.Duration())
	}
	return fmt.Sprintf("%s %-10s %-17s %-8s %s",
		statusBadge(d.Status),
		truncate(d.IssueKey, 10),
		d.Operation,
		took,
		dimmedStyle.Render(humanize.Time(d.StartedAt)))
}

func statusBadge(s domain.DispatchStatus) string {
	switch s {
	case domain.DispatchSucceeded:
		return succeededStyle.Render("✓")
	case domain.DispatchFailed:
		return failedStyle.Render("✗")
	default:
		return startedStyle.Render("●")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
