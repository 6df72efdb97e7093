package secrets

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// CredentialBundle is the immutable result of a successful resolution.
// It always contains exactly the requested names; there is no way to
// obtain a partially populated bundle. Rendering methods (String,
// MarshalJSON, LogValue) never expose values.
type CredentialBundle struct {
	values  map[string]string
	backend string
}

// newBundle takes ownership of values.
func newBundle(backend string, values map[string]string) *CredentialBundle {
	return &CredentialBundle{values: values, backend: backend}
}

// Get returns the value for name and whether the bundle holds it.
func (b *CredentialBundle) Get(name string) (string, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Value returns the value for name, or "" when absent.
func (b *CredentialBundle) Value(name string) string {
	return b.values[name]
}

// Names returns the bundle's keys in sorted order.
func (b *CredentialBundle) Names() []string {
	names := make([]string, 0, len(b.values))
	for k := range b.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of secrets in the bundle.
func (b *CredentialBundle) Len() int { return len(b.values) }

// Backend returns the name of the backend that produced the bundle.
func (b *CredentialBundle) Backend() string { return b.backend }

// Map returns a copy of the bundle contents. Mutating the copy does not
// affect the bundle.
func (b *CredentialBundle) Map() map[string]string {
	cp := make(map[string]string, len(b.values))
	for k, v := range b.values {
		cp[k] = v
	}
	return cp
}

// Redacted returns a copy of the bundle with every value masked.
func (b *CredentialBundle) Redacted() map[string]string {
	cp := make(map[string]string, len(b.values))
	for k, v := range b.values {
		cp[k] = Redact(v)
	}
	return cp
}

func (b *CredentialBundle) String() string {
	parts := make([]string, 0, len(b.values))
	for _, name := range b.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", name, Redact(b.values[name])))
	}
	return fmt.Sprintf("CredentialBundle{backend=%s %s}", b.backend, strings.Join(parts, " "))
}

func (b *CredentialBundle) GoString() string { return b.String() }

// MarshalJSON renders the bundle with redacted values.
func (b *CredentialBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Backend string            `json:"backend"`
		Secrets map[string]string `json:"secrets"`
	}{Backend: b.backend, Secrets: b.Redacted()})
}

// LogValue implements slog.LogValuer: only names and the backend are logged.
func (b *CredentialBundle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", b.backend),
		slog.Any("names", b.Names()),
	)
}
