package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/boardwatch/internal/history"
	"github.com/hochfrequenz/boardwatch/tui"
)

var dashboardRefresh time.Duration

func init() {
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Launch the live dispatch dashboard",
		RunE:  runDashboard,
	}
	dashboardCmd.Flags().DurationVar(&dashboardRefresh, "refresh", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.New(cfg.History.DatabasePath, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	model := tui.NewModel(tui.ModelConfig{
		Source:  store,
		Refresh: dashboardRefresh,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
