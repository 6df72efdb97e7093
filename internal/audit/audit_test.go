package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/credresolve/internal/secrets"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "audit.db"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_SQLite(t *testing.T) {
	db := openTestDB(t)
	if db.Driver() != DriverSQLite {
		t.Errorf("driver = %q, want sqlite", db.Driver())
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpen_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"sqlite without path", Config{Driver: DriverSQLite}},
		{"postgres without dsn", Config{Driver: DriverPostgres}},
		{"postgres malformed dsn", Config{Driver: DriverPostgres, DSN: "postgres://user:pw@host:notaport/db"}},
		{"unknown driver", Config{Driver: "mysql", DSN: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.cfg, discardLogger()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRepository_AppendAndQuery(t *testing.T) {
	repo := openTestDB(t).Repository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{Trigger: "cli", Backend: "env", Names: []string{"username", "password"}, Status: "success", CreatedAt: base},
		{Trigger: "cli", Backend: "vault:azure", Names: []string{"api_key"}, Status: "unavailable", Error: "dial tcp: timeout", CreatedAt: base.Add(time.Hour)},
		{Trigger: "probe:nightly", Backend: "env", Names: []string{"api_key"}, Status: "not_found", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := repo.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Status != "not_found" || all[2].Status != "success" {
		t.Errorf("expected newest first, got %q..%q", all[0].Status, all[2].Status)
	}
	if got := strings.Join(all[2].Names, ","); got != "username,password" {
		t.Errorf("names = %q, want username,password", got)
	}
	if all[0].ID.String() == "" || all[0].ID == all[1].ID {
		t.Error("expected distinct generated IDs")
	}

	envOnly, err := repo.Query(ctx, Filter{Backend: "env"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(envOnly) != 2 {
		t.Errorf("backend filter: got %d, want 2", len(envOnly))
	}

	failed, err := repo.Query(ctx, Filter{Status: "unavailable", Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "dial tcp: timeout" {
		t.Errorf("status filter: got %+v", failed)
	}

	limited, err := repo.Query(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d, want 1", len(limited))
	}
}

func TestRepository_Prune(t *testing.T) {
	repo := openTestDB(t).Repository()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		if err := repo.Append(ctx, Event{Backend: "env", Status: "success", CreatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	removed, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestRepository_PruneOlderThanZeroKeepsAll(t *testing.T) {
	repo := openTestDB(t).Repository()
	ctx := context.Background()
	if err := repo.Append(ctx, Event{Backend: "env", Status: "success", CreatedAt: time.Now().AddDate(-1, 0, 0)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	removed, err := repo.PruneOlderThan(ctx, 0)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestRecorder_ThroughResolver(t *testing.T) {
	repo := openTestDB(t).Repository()
	ctx := context.Background()

	store := secrets.NewStore(map[string]string{
		"username": "admin",
		"password": "hunter2",
	})
	backend := secrets.NewEnvironmentBackend(store)
	r := secrets.NewResolver(
		secrets.WithLogger(discardLogger()),
		secrets.WithRecorder(NewRecorder(repo, "cli", discardLogger())),
	)

	if _, err := r.Resolve(ctx, []string{"username", "password"}, backend); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve(ctx, []string{"username", "api_key"}, backend); !secrets.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	events, err := repo.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	statuses := map[string]bool{}
	for _, ev := range events {
		statuses[ev.Status] = true
		if ev.Trigger != "cli" || ev.Backend != "env" {
			t.Errorf("unexpected event %+v", ev)
		}
		if strings.Contains(ev.Error, "hunter2") || strings.Contains(ev.Error, "admin") {
			t.Errorf("event error leaked a secret value: %q", ev.Error)
		}
	}
	if !statuses["success"] || !statuses["not_found"] {
		t.Errorf("statuses = %v, want success and not_found", statuses)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.RecordResolution(context.Background(), secrets.Outcome{Backend: "env"})
	NewRecorder(nil, "cli", nil).RecordResolution(context.Background(), secrets.Outcome{Backend: "env"})
}

func TestEventFromOutcome(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("x", 3600))
	names := []string{"api_key"}
	ev := EventFromOutcome("probe:p1", secrets.Outcome{
		Backend:   "vault:hashicorp",
		Names:     names,
		Err:       &secrets.BackendUnavailableError{Name: "api_key", Backend: "vault:hashicorp", Err: errors.New("403")},
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	})
	names[0] = "mutated"

	if ev.Status != "unavailable" {
		t.Errorf("status = %q, want unavailable", ev.Status)
	}
	if ev.DurationMS != 1500 {
		t.Errorf("duration = %d, want 1500", ev.DurationMS)
	}
	if ev.Names[0] != "api_key" {
		t.Error("event names must be a copy")
	}
	if ev.CreatedAt.Location() != time.UTC || !ev.CreatedAt.Equal(started) {
		t.Errorf("created_at = %v", ev.CreatedAt)
	}
	if ev.Error == "" {
		t.Error("expected error text")
	}
}
