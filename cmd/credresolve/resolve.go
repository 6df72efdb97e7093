package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/secrets"
)

var (
	resolveConfigPath string
	resolveNames      []string
	resolveBackend    string
	resolveJSON       bool
	resolveReveal     bool
	resolveCollectAll bool
	resolveTimeout    time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a set of secret names from the configured backend",
	Long: `Resolve every requested name from exactly one backend. Either all names
resolve or the command fails; no partial bundle is printed.

Values are redacted unless --reveal is given, in which case the bundle is
printed in dotenv format on stdout.

Examples:
  credresolve resolve
  credresolve resolve --names username,password --backend vault
  credresolve resolve --reveal > .env.runtime

Exit codes:
  0  success
  1  failure (bad config, invalid names)
  2  a name was not found
  3  backend unavailable`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	resolveCmd.Flags().StringSliceVar(&resolveNames, "names", nil, "comma-separated secret names (default from config)")
	resolveCmd.Flags().StringVar(&resolveBackend, "backend", "", "override backend: env or vault")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the redacted bundle as JSON")
	resolveCmd.Flags().BoolVar(&resolveReveal, "reveal", false, "print raw values in dotenv format")
	resolveCmd.Flags().BoolVar(&resolveCollectAll, "collect-all", false, "report every failing name instead of the first")
	resolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", time.Minute, "overall resolution timeout")
}

func runResolve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, resolveConfigPath)
	if err != nil {
		return err
	}
	if resolveBackend != "" {
		cfg.Backend = resolveBackend
	}
	if resolveCollectAll {
		cfg.CollectAll = true
	}
	names := cfg.Secrets
	if len(resolveNames) > 0 {
		names = resolveNames
	}

	logger := newLogger(cfg.Log, os.Stderr)

	ctx, cancel := context.WithTimeout(cmd.Context(), resolveTimeout)
	defer cancel()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	opts := sc.resolverOptions()
	if rec := sc.auditRecorder("cli"); rec != nil {
		opts = append(opts, secrets.WithRecorder(rec))
	}

	bundle, err := secrets.NewResolver(opts...).Resolve(ctx, names, sc.Backend)
	if err != nil {
		return &exitError{code: exitCodeFor(err), err: err}
	}
	logger.Debug("bundle ready", slog.Any("bundle", bundle))

	return printBundle(cmd.OutOrStdout(), bundle, resolveJSON, resolveReveal)
}

func printBundle(w io.Writer, bundle *secrets.CredentialBundle, asJSON, reveal bool) error {
	switch {
	case reveal:
		out, err := godotenv.Marshal(bundle.Map())
		if err != nil {
			return fmt.Errorf("encoding bundle: %w", err)
		}
		_, err = fmt.Fprintln(w, out)
		return err
	case asJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	default:
		redacted := bundle.Redacted()
		names := make([]string, 0, len(redacted))
		for n := range redacted {
			names = append(names, n)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "backend: %s\n", bundle.Backend())
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVALUE")
		for _, n := range names {
			fmt.Fprintf(tw, "%s\t%s\n", n, redacted[n])
		}
		return tw.Flush()
	}
}
