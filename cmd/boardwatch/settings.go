package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/boardwatch/internal/config"
	"github.com/hochfrequenz/boardwatch/internal/dispatch"
)

// settable maps `config set` keys to the field they write
var settable = map[string]func(cfg *config.Config, value string) error{
	"backend-url": func(cfg *config.Config, value string) error {
		value = strings.TrimRight(strings.TrimSpace(value), "/")
		if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("backend url must start with http:// or https://")
		}
		cfg.Backend.URL = value
		return nil
	},
	"jira-domain": func(cfg *config.Config, value string) error {
		cfg.Jira.Domain = strings.TrimSpace(value)
		return nil
	},
	"board-url": func(cfg *config.Config, value string) error {
		cfg.Jira.BoardURL = strings.TrimSpace(value)
		return nil
	},
	"rescan-cron": func(cfg *config.Config, value string) error {
		cfg.Watcher.RescanCron = strings.TrimSpace(value)
		return nil
	},
}

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShow,
	}

	keys := make([]string, 0, len(settable))
	for k := range settable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	setCmd := &cobra.Command{
		Use:       "set KEY VALUE",
		Short:     "Persist a setting (" + strings.Join(keys, ", ") + ")",
		Args:      cobra.ExactArgs(2),
		ValidArgs: keys,
		RunE:      runConfigSet,
	}

	configCmd.AddCommand(showCmd, setCmd)
	rootCmd.AddCommand(configCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the automation backend is reachable",
		RunE:  runDoctor,
	}
	rootCmd.AddCommand(doctorCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", resolvedConfigPath(), data)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	set, ok := settable[args[0]]
	if !ok {
		return fmt.Errorf("unknown setting %q", args[0])
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := set(cfg, args[1]); err != nil {
		return err
	}
	path := resolvedConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s = %q to %s\n", args[0], args[1], path)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseURL := config.NewSettings(cfg).BaseURL()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health, err := dispatch.NewClient(cfg.Backend.Timeout.Duration).Health(ctx, baseURL)
	if err != nil {
		return fmt.Errorf("backend %s unreachable: %w", baseURL, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s backend %s\n", succeededStyle.Render("✓"), baseURL)
	keys := make([]string, 0, len(health))
	for k := range health {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %v\n", k, health[k])
	}
	if cfg.Jira.Domain == "" {
		fmt.Fprintln(out, startedStyle.Render("! jira.domain not set, notification clicks cannot open issues"))
	}
	return nil
}
