// Package secrets resolves named credentials from interchangeable backends.
//
// A Backend fetches one secret at a time. EnvironmentBackend reads from an
// injected, read-only key/value Store; VaultBackend reads from a remote
// secret store through a VaultClient handle. The Resolver turns a set of
// names into an immutable CredentialBundle, or fails as a whole.
//
// Secret values never leave this package in logs: bundles render redacted
// values and backends only log names.
package secrets

import "context"

// Backend fetches a single named secret.
// Implementations must be safe for concurrent use and must not mutate
// shared state beyond internal connection caching.
type Backend interface {
	// Fetch returns the value stored under name. It fails with a
	// *NotFoundError when the backend holds no such secret and with a
	// *BackendUnavailableError when the store cannot be reached.
	Fetch(ctx context.Context, name string) (string, error)

	// Name returns the backend identifier for logging (never includes secrets).
	Name() string
}

// DefaultNames are the credentials an application typically authenticates with.
var DefaultNames = []string{"username", "password", "api_key"}
