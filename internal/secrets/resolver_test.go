package secrets

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
)

// recordingRecorder captures outcomes for assertions.
type recordingRecorder struct {
	outcomes []Outcome
}

func (r *recordingRecorder) RecordResolution(_ context.Context, o Outcome) {
	r.outcomes = append(r.outcomes, o)
}

// countingBackend wraps a backend and counts fetches.
type countingBackend struct {
	Backend
	fetches []string
}

func (c *countingBackend) Fetch(ctx context.Context, name string) (string, error) {
	c.fetches = append(c.fetches, name)
	return c.Backend.Fetch(ctx, name)
}

func testStoreBackend() *EnvironmentBackend {
	return NewEnvironmentBackend(NewStore(map[string]string{
		"username": "alice",
		"password": "hunter2",
		"api_key":  "abc123",
		"extra":    "unused",
	}))
}

func TestResolve_AllPresent(t *testing.T) {
	bundle, err := NewResolver().Resolve(context.Background(), DefaultNames, testStoreBackend())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := append([]string(nil), DefaultNames...)
	sort.Strings(want)
	if got := bundle.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("bundle names = %v, want %v", got, want)
	}
	if bundle.Value("password") != "hunter2" {
		t.Errorf("password = %q", bundle.Value("password"))
	}
	if _, ok := bundle.Get("extra"); ok {
		t.Error("bundle must contain exactly the requested names")
	}
}

func TestResolve_MissingNameFailsWithoutBundle(t *testing.T) {
	backend := &countingBackend{Backend: testStoreBackend()}

	bundle, err := NewResolver().Resolve(context.Background(), []string{"username", "token", "password"}, backend)
	if bundle != nil {
		t.Fatal("no bundle may be returned on failure")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Name != "token" {
		t.Fatalf("expected not found for 'token', got %v", err)
	}
	if len(backend.fetches) != 2 {
		t.Fatalf("expected fail-fast after 2 fetches, got %v", backend.fetches)
	}
}

func TestResolve_CollectAll(t *testing.T) {
	backend := &countingBackend{Backend: testStoreBackend()}

	bundle, err := NewResolver(WithCollectAll()).Resolve(context.Background(),
		[]string{"a", "username", "b"}, backend)
	if bundle != nil {
		t.Fatal("no bundle may be returned on failure")
	}
	if len(backend.fetches) != 3 {
		t.Fatalf("expected every name fetched, got %v", backend.fetches)
	}
	var missing []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var nf *NotFoundError
		if errors.As(e, &nf) {
			missing = append(missing, nf.Name)
		}
	}
	if !reflect.DeepEqual(missing, []string{"a", "b"}) {
		t.Fatalf("expected failures for a and b, got %v", missing)
	}
}

func TestResolve_UnavailablePropagatesUnmodified(t *testing.T) {
	fault := &BackendUnavailableError{Name: "username", Backend: "vault:stub", Err: errors.New("boom")}
	b := NewVaultBackend(&stubVaultClient{err: fault})

	_, err := NewResolver().Resolve(context.Background(), DefaultNames, b)
	if !IsUnavailable(err) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
	var ua *BackendUnavailableError
	if !errors.As(err, &ua) || ua.Name != "username" {
		t.Fatalf("expected error to name the first secret, got %v", err)
	}
}

func TestResolve_InvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		backend Backend
	}{
		{"no names", nil, testStoreBackend()},
		{"empty name", []string{"username", ""}, testStoreBackend()},
		{"duplicate", []string{"username", "username"}, testStoreBackend()},
		{"nil backend", []string{"username"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver().Resolve(context.Background(), tt.names, tt.backend)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewResolver()
	backend := testStoreBackend()

	first, err := r.Resolve(context.Background(), DefaultNames, backend)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), DefaultNames, backend)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(first.Map(), second.Map()) {
		t.Fatalf("resolutions differ: %v vs %v", first.Map(), second.Map())
	}
}

func TestResolve_Recorders(t *testing.T) {
	rec := &recordingRecorder{}
	r := NewResolver(WithRecorder(rec, nil))

	_, _ = r.Resolve(context.Background(), []string{"username"}, testStoreBackend())
	_, _ = r.Resolve(context.Background(), []string{"missing"}, testStoreBackend())
	_, _ = r.Resolve(context.Background(), []string{""}, testStoreBackend())

	if len(rec.outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(rec.outcomes))
	}
	wantStatus := []string{"success", "not_found", "invalid"}
	for i, o := range rec.outcomes {
		if o.Status() != wantStatus[i] {
			t.Errorf("outcome %d status = %q, want %q", i, o.Status(), wantStatus[i])
		}
		if o.Backend != "env" {
			t.Errorf("outcome %d backend = %q", i, o.Backend)
		}
	}
}

func TestOutcome_Status(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{&NotFoundError{Name: "x"}, "not_found"},
		{&BackendUnavailableError{Name: "x"}, "unavailable"},
		{ErrInvalidRequest, "invalid"},
		{errors.New("other"), "error"},
		{errors.Join(&NotFoundError{Name: "a"}, &BackendUnavailableError{Name: "b"}), "unavailable"},
	}
	for _, tt := range tests {
		if got := (Outcome{Err: tt.err}).Status(); got != tt.want {
			t.Errorf("Status(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
