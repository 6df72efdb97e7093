package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/credresolve/internal/audit"
	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/observability"
	"github.com/jkaninda/credresolve/internal/secrets"
)

// sharedComponents holds the subsystems every command needs.
// Built once by initShared, torn down by Cleanup.
type sharedComponents struct {
	Config  *config.Config
	Logger  *slog.Logger
	Obs     *observability.Observability
	Backend secrets.Backend
	AuditDB *audit.DB // nil = audit disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *sharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *sharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config file. An explicit --config wins over
// CREDRESOLVE_CONFIG, and either must exist. Only the default path falls
// back to built-in defaults when missing.
func loadConfig(cmd *cobra.Command, flagPath string) (*config.Config, error) {
	if cmd != nil && cmd.Flags().Changed("config") {
		return config.Load(flagPath)
	}
	if p := goutils.Env("CREDRESOLVE_CONFIG", ""); p != "" {
		return config.Load(p)
	}
	return config.LoadOrDefault(flagPath)
}

// newLogger builds the process logger from config. Logs go to w.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initShared builds the backend, observability and audit store.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sharedComponents, error) {
	sc := &sharedComponents{Config: cfg, Logger: logger}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Backend = observability.NewInstrumentedBackend(backend, obs)
	logger.Debug("backend initialized", slog.String("backend", backend.Name()))

	if cfg.Audit != nil && cfg.Audit.Enabled {
		db, err := audit.Open(audit.Config{
			Driver: cfg.Audit.AuditDriver(),
			Path:   cfg.Audit.Path,
			DSN:    cfg.Audit.DSN,
		}, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		sc.AuditDB = db
		sc.addCleanup(func() { _ = db.Close() })
	}

	return sc, nil
}

// resolverOptions returns the options every resolver in this process uses.
func (sc *sharedComponents) resolverOptions() []secrets.ResolverOption {
	opts := []secrets.ResolverOption{secrets.WithLogger(sc.Logger)}
	if sc.Config.CollectAll {
		opts = append(opts, secrets.WithCollectAll())
	}
	if recs := sc.Obs.Recorders(); len(recs) > 0 {
		opts = append(opts, secrets.WithRecorder(recs...))
	}
	return opts
}

// auditRecorder returns a recorder tagging events with trigger, or nil.
func (sc *sharedComponents) auditRecorder(trigger string) secrets.Recorder {
	if sc.AuditDB == nil {
		return nil
	}
	return audit.NewRecorder(sc.AuditDB.Repository(), trigger, sc.Logger)
}

// buildBackend constructs the single backend selected by cfg.Backend.
func buildBackend(ctx context.Context, cfg *config.Config) (secrets.Backend, error) {
	switch cfg.Backend {
	case "env":
		store, err := buildEnvStore(cfg.Env)
		if err != nil {
			return nil, err
		}
		var opts []secrets.EnvOption
		if cfg.Env.Prefix != "" {
			opts = append(opts, secrets.WithPrefix(cfg.Env.Prefix))
		}
		if cfg.Env.UppercaseEnabled() {
			opts = append(opts, secrets.WithKeyFunc(strings.ToUpper))
		}
		return secrets.NewEnvironmentBackend(store, opts...), nil
	case "vault":
		client, err := buildVaultClient(ctx, cfg.Vault)
		if err != nil {
			return nil, err
		}
		return secrets.NewVaultBackend(client, secrets.WithTimeout(cfg.Vault.Timeout())), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q (use env or vault)", cfg.Backend)
	}
}

// buildEnvStore loads dotenv files (later files win) and overlays the
// process environment when enabled.
func buildEnvStore(cfg config.EnvConfig) (*secrets.Store, error) {
	files := cfg.Files
	if cfg.Optional {
		files = existingFiles(files)
	}

	store := secrets.NewStore(nil)
	if len(files) > 0 {
		loaded, err := secrets.LoadDotenv(files...)
		if err != nil {
			return nil, err
		}
		store = loaded
	}
	if cfg.OSEnvEnabled() {
		store = store.Merge(secrets.StoreFromEnviron(os.Environ()))
	}
	return store, nil
}

func existingFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func buildVaultClient(ctx context.Context, cfg config.VaultConfig) (secrets.VaultClient, error) {
	switch cfg.Provider {
	case "azure", "":
		// nil credential selects DefaultAzureCredential (env, workload or managed identity, az CLI).
		c, err := secrets.NewAzureClient(cfg.Azure.Name, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "hashicorp":
		c, err := secrets.NewHashiCorpClient(secrets.HashiCorpConfig{
			Address:       cfg.HashiCorp.Address,
			Token:         cfg.HashiCorp.Token,
			Namespace:     cfg.HashiCorp.Namespace,
			Mount:         cfg.HashiCorp.Mount,
			Path:          cfg.HashiCorp.Path,
			Timeout:       cfg.Timeout(),
			TLSSkipVerify: cfg.HashiCorp.TLSSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "infisical":
		c, err := secrets.NewInfisicalClient(ctx, secrets.InfisicalConfig{
			URL:         cfg.Infisical.URL,
			Token:       cfg.Infisical.Token,
			ProjectID:   cfg.Infisical.ProjectID,
			Environment: cfg.Infisical.Environment,
			Path:        cfg.Infisical.Path,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported vault provider %q", cfg.Provider)
	}
}

// Exit codes shared by commands that resolve secrets.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitNotFound    = 2
	ExitUnavailable = 3
)

// exitError carries a process exit code back to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor maps a resolution error to the documented exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, secrets.ErrInvalidRequest):
		return ExitFailure
	case secrets.IsUnavailable(err):
		return ExitUnavailable
	case secrets.IsNotFound(err):
		return ExitNotFound
	default:
		return ExitFailure
	}
}
