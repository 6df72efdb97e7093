package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/credresolve/internal/audit"
	"github.com/jkaninda/credresolve/internal/config"
)

var (
	auditConfigPath string
	auditLimit      int
	auditBackend    string
	auditStatus     string
	auditJSON       bool
	auditPruneDays  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent resolution events",
	Long: `Print recent resolution events from the audit store, newest first.
Events record names, backend, outcome and timing; never values.`,
	RunE: runAuditList,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events older than --days",
	RunE:  runAuditPrune,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum events to show")
	auditCmd.Flags().StringVar(&auditBackend, "backend", "", "only events for this backend (e.g. env, vault:azure)")
	auditCmd.Flags().StringVar(&auditStatus, "status", "", "only events with this status (success, not_found, unavailable, invalid, error)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print events as JSON")
	auditPruneCmd.Flags().IntVar(&auditPruneDays, "days", 0, "retention in days (default from audit.retain_days)")
	auditCmd.AddCommand(auditPruneCmd)
}

func openAuditFromConfig(cmd *cobra.Command) (*audit.DB, error) {
	cfg, err := loadConfig(cmd, auditConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Audit == nil || !cfg.Audit.Enabled {
		return nil, fmt.Errorf("audit is not enabled (set audit.enabled in config)")
	}
	logger := newLogger(cfg.Log, os.Stderr)
	if auditPruneDays == 0 {
		auditPruneDays = cfg.Audit.Retain
	}
	return audit.Open(audit.Config{
		Driver: cfg.Audit.AuditDriver(),
		Path:   cfg.Audit.Path,
		DSN:    cfg.Audit.DSN,
	}, logger)
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	db, err := openAuditFromConfig(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.Repository().Query(cmd.Context(), audit.Filter{
		Backend: auditBackend,
		Status:  auditStatus,
		Limit:   auditLimit,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if auditJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTRIGGER\tBACKEND\tSTATUS\tDURATION\tNAMES\tERROR")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339),
			ev.Trigger,
			ev.Backend,
			ev.Status,
			ev.DurationMS,
			strings.Join(ev.Names, ","),
			ev.Error,
		)
	}
	return tw.Flush()
}

func runAuditPrune(cmd *cobra.Command, _ []string) error {
	db, err := openAuditFromConfig(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if auditPruneDays <= 0 {
		return fmt.Errorf("retention not set: pass --days or configure audit.retain_days")
	}
	n, err := db.Repository().PruneOlderThan(cmd.Context(), auditPruneDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events older than %d days\n", n, auditPruneDays)
	return nil
}
