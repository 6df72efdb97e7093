package secrets

import (
	"context"
	"errors"
	"testing"

	infisical "github.com/infisical/go-sdk"
)

func newTestInfisicalClient(fn infisicalRetrieveFunc) *InfisicalClient {
	return &InfisicalClient{
		retrieve:    fn,
		projectID:   "proj",
		environment: "dev",
		path:        "/",
	}
}

func TestInfisicalClient_GetSecret(t *testing.T) {
	var got infisical.RetrieveSecretOptions
	c := newTestInfisicalClient(func(o infisical.RetrieveSecretOptions) (string, error) {
		got = o
		return "secretval", nil
	})

	v, err := c.GetSecret(context.Background(), "api_key")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if v != "secretval" {
		t.Fatalf("expected 'secretval', got %q", v)
	}
	if got.SecretKey != "api_key" || got.ProjectID != "proj" || got.Environment != "dev" || got.SecretPath != "/" {
		t.Fatalf("unexpected retrieve options: %+v", got)
	}
}

func TestInfisicalClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		unavailable bool
	}{
		{"not found message", errors.New("Secret not found"), true, false},
		{"404 status", errors.New("APIError: status 404"), true, false},
		{"network", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), false, true},
		{"unauthorized", errors.New("APIError: status 401 unauthorized"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestInfisicalClient(func(infisical.RetrieveSecretOptions) (string, error) {
				return "", tt.err
			})
			_, err := c.GetSecret(context.Background(), "k")
			if IsNotFound(err) != tt.notFound || IsUnavailable(err) != tt.unavailable {
				t.Fatalf("got notFound=%v unavailable=%v for %v", IsNotFound(err), IsUnavailable(err), err)
			}
		})
	}
}

func TestInfisicalClient_CancelledContext(t *testing.T) {
	called := false
	c := newTestInfisicalClient(func(infisical.RetrieveSecretOptions) (string, error) {
		called = true
		return "v", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GetSecret(ctx, "k"); !IsUnavailable(err) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
	if called {
		t.Fatal("retrieve must not be called with a cancelled context")
	}
}

func TestNewInfisicalClient_Validation(t *testing.T) {
	t.Setenv("INFISICAL_TOKEN", "")
	t.Setenv("INFISICAL_PROJECT_ID", "")

	if _, err := NewInfisicalClient(context.Background(), InfisicalConfig{ProjectID: "p"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewInfisicalClient(context.Background(), InfisicalConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing project id")
	}
}
