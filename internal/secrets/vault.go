package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VaultClient is a handle to a remote secret store. The client owns its
// authentication handshake; VaultBackend only asks it for values.
type VaultClient interface {
	// GetSecret returns the current value of the named secret.
	GetSecret(ctx context.Context, name string) (string, error)
	// Kind identifies the store type ("azure", "hashicorp", "infisical").
	Kind() string
}

// VaultBackend resolves secrets through a VaultClient.
// Every Fetch is one independent round trip: no batching, retry or caching.
type VaultBackend struct {
	client  VaultClient
	timeout time.Duration
}

// VaultOption configures a VaultBackend.
type VaultOption func(*VaultBackend)

// WithTimeout bounds each Fetch. Zero disables the per-call timeout.
func WithTimeout(d time.Duration) VaultOption {
	return func(b *VaultBackend) { b.timeout = d }
}

// NewVaultBackend wraps client. The client may be shared across goroutines
// when its implementation is safe for concurrent use; all clients in this
// package are.
func NewVaultBackend(client VaultClient, opts ...VaultOption) *VaultBackend {
	b := &VaultBackend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *VaultBackend) Name() string { return "vault:" + b.client.Kind() }

// Fetch asks the client for name. Timeouts and cancellations surface as
// *BackendUnavailableError; unclassified client errors are treated the same way.
func (b *VaultBackend) Fetch(ctx context.Context, name string) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	value, err := b.client.GetSecret(ctx, name)
	if err == nil {
		return value, nil
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "", &NotFoundError{Name: name, Backend: b.Name(), Err: nf.Err}
	}
	var ua *BackendUnavailableError
	if errors.As(err, &ua) {
		return "", &BackendUnavailableError{Name: name, Backend: b.Name(), Err: ua.Err}
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", &BackendUnavailableError{
			Name:    name,
			Backend: b.Name(),
			Err:     fmt.Errorf("fetch timed out or was cancelled: %w", err),
		}
	}
	return "", &BackendUnavailableError{Name: name, Backend: b.Name(), Err: err}
}
