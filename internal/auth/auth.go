// Package auth declares the contract between resolved credentials and the
// caller-supplied authentication routine. No concrete authenticator is
// provided; applications implement Authenticator against their target system.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkaninda/credresolve/internal/secrets"
)

// ErrAuthFailed is returned (wrapped) when authentication is rejected.
var ErrAuthFailed = errors.New("authentication failed")

// Token is the opaque result of a successful authentication.
type Token struct {
	Value     string
	ExpiresAt time.Time // Zero means no expiry.
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s}", secrets.Redact(t.Value))
}

// Authenticator consumes a CredentialBundle. The bundle is its only input.
type Authenticator interface {
	Authenticate(ctx context.Context, bundle *secrets.CredentialBundle) (Token, error)
}

// Func adapts a function to Authenticator.
type Func func(ctx context.Context, bundle *secrets.CredentialBundle) (Token, error)

func (f Func) Authenticate(ctx context.Context, bundle *secrets.CredentialBundle) (Token, error) {
	return f(ctx, bundle)
}

// Require checks that bundle carries every name the authenticator needs.
func Require(bundle *secrets.CredentialBundle, names ...string) error {
	if bundle == nil {
		return fmt.Errorf("%w: no credentials", ErrAuthFailed)
	}
	for _, name := range names {
		if _, ok := bundle.Get(name); !ok {
			return fmt.Errorf("%w: credential %q missing from bundle", ErrAuthFailed, name)
		}
	}
	return nil
}

// ResolveAndAuthenticate resolves names from backend and hands the bundle
// to a. Resolution errors are returned unchanged.
func ResolveAndAuthenticate(ctx context.Context, r *secrets.Resolver, names []string, backend secrets.Backend, a Authenticator) (Token, error) {
	bundle, err := r.Resolve(ctx, names, backend)
	if err != nil {
		return Token{}, err
	}
	return a.Authenticate(ctx, bundle)
}
