package secrets

import "context"

// EnvironmentBackend resolves secrets from an injected Store.
// It never reads the process environment itself; callers build the Store
// from dotenv files or os.Environ() at startup.
type EnvironmentBackend struct {
	store   *Store
	prefix  string
	keyFunc func(string) string
}

// EnvOption configures an EnvironmentBackend.
type EnvOption func(*EnvironmentBackend)

// WithPrefix prepends prefix to every key before lookup (e.g. "APP_").
func WithPrefix(prefix string) EnvOption {
	return func(b *EnvironmentBackend) { b.prefix = prefix }
}

// WithKeyFunc maps a requested name to its store key before the prefix is
// applied, e.g. strings.ToUpper so "api_key" reads API_KEY. Bundles and
// errors keep the requested name.
func WithKeyFunc(fn func(string) string) EnvOption {
	return func(b *EnvironmentBackend) { b.keyFunc = fn }
}

// NewEnvironmentBackend creates a backend over store. A nil store behaves
// as an empty one.
func NewEnvironmentBackend(store *Store, opts ...EnvOption) *EnvironmentBackend {
	if store == nil {
		store = NewStore(nil)
	}
	b := &EnvironmentBackend{store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EnvironmentBackend) Name() string { return "env" }

// Fetch is a pure lookup. A key set to the empty string resolves to "";
// only a key that was never set is reported as not found.
func (b *EnvironmentBackend) Fetch(_ context.Context, name string) (string, error) {
	key := name
	if b.keyFunc != nil {
		key = b.keyFunc(name)
	}
	if v, ok := b.store.Lookup(b.prefix + key); ok {
		return v, nil
	}
	return "", &NotFoundError{Name: name, Backend: b.Name()}
}
