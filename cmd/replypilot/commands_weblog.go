package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/replypilot/replypilot/internal/config"
	"github.com/replypilot/replypilot/internal/weblog"
)

// buildWeblogCmd creates the "weblog" command group for operating on the
// webhook log store directly.
func buildWeblogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weblog",
		Short: "Operate on the webhook log store",
	}
	cmd.AddCommand(buildWeblogCleanupCmd(), buildWeblogRecentCmd())
	return cmd
}

func buildWeblogCleanupCmd() *cobra.Command {
	var (
		configPath    string
		retentionDays int
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete webhook log entries past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if retentionDays == 0 {
				retentionDays = cfg.WebhookLog.RetentionDays
			}
			if retentionDays < 1 {
				return fmt.Errorf("retention must be at least 1 day")
			}

			store, err := buildWeblogStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			janitor, err := weblog.NewJanitor(store, weblog.JanitorConfig{
				Retention: time.Duration(retentionDays) * 24 * time.Hour,
			})
			if err != nil {
				return err
			}
			removed, err := janitor.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %d days.\n",
				removed, retentionDays)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0,
		"Override the configured retention window")
	return cmd
}

func buildWeblogRecentCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recent webhook log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := buildWeblogStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entries.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-14s %-7s %5dms",
					e.Timestamp.Format(time.RFC3339), e.Stage, e.Outcome, e.DurationMs)
				if e.ErrorSummary != "" {
					line += "  " + e.ErrorSummary
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}
