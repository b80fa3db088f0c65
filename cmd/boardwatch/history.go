package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/boardwatch/internal/domain"
	"github.com/hochfrequenz/boardwatch/internal/history"
)

var (
	historyIssue  string
	historyStatus string
	historyLimit  int
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	succeededStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	startedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyIssue, "issue", "", "filter by issue key")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (started, succeeded, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of dispatches to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.New(cfg.History.DatabasePath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	dispatches, err := store.List(history.ListOptions{
		IssueKey: strings.ToUpper(historyIssue),
		Status:   domain.DispatchStatus(historyStatus),
		Limit:    historyLimit,
	})
	if err != nil {
		return err
	}
	counts, err := store.Counts()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Dispatch history"))
	fmt.Fprintf(out, "%s succeeded | %s failed | %s in flight\n\n",
		succeededStyle.Render(humanize.Comma(int64(counts.Succeeded))),
		failedStyle.Render(humanize.Comma(int64(counts.Failed))),
		startedStyle.Render(humanize.Comma(int64(counts.Started))))

	if len(dispatches) == 0 {
		fmt.Fprintln(out, dimmedStyle.Render("No dispatches recorded"))
		return nil
	}
	for _, d := range dispatches {
		fmt.Fprintln(out, formatDispatch(d))
	}
	return nil
}

func formatDispatch(d domain.Dispatch) string {
	var status string
	switch d.Status {
	case domain.DispatchSucceeded:
		status = succeededStyle.Render("✓")
	case domain.DispatchFailed:
		status = failedStyle.Render("✗")
	default:
		status = startedStyle.Render("●")
	}

	line := fmt.Sprintf("%s %-10s %-17s %s", status, d.IssueKey, d.Operation, dimmedStyle.Render(humanize.Time(d.StartedAt)))
	if d.FinishedAt != nil {
		line += dimmedStyle.Render(fmt.Sprintf(" (%s)", d.Duration().Round(100*time.Millisecond)))
	}
	if d.Error != "" {
		line += "\n    " + failedStyle.Render(d.Error)
	}
	return line
}
