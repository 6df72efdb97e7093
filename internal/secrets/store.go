package secrets

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
)

// Store is a read-only key/value snapshot backing an EnvironmentBackend.
// It is populated once at startup and never written afterwards, so it can
// be shared across goroutines without locking.
type Store struct {
	values map[string]string
}

// NewStore returns a Store holding a copy of values.
func NewStore(values map[string]string) *Store {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Store{values: cp}
}

// LoadDotenv reads KEY=VALUE files with godotenv and returns their union.
// Later files override earlier ones. A missing or unreadable file is
// reported as a *BackendUnavailableError for the "env" backend.
func LoadDotenv(paths ...string) (*Store, error) {
	values := make(map[string]string)
	for _, path := range paths {
		m, err := godotenv.Read(path)
		if err != nil {
			return nil, &BackendUnavailableError{
				Backend: "env",
				Err:     fmt.Errorf("reading dotenv file %s: %w", path, err),
			}
		}
		for k, v := range m {
			values[k] = v
		}
	}
	return &Store{values: values}, nil
}

// StoreFromEnviron builds a Store from "KEY=VALUE" pairs such as os.Environ().
// Entries without '=' are ignored.
func StoreFromEnviron(environ []string) *Store {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		values[k] = v
	}
	return &Store{values: values}
}

// Merge returns a new Store with the entries of s overlaid by other.
func (s *Store) Merge(other *Store) *Store {
	merged := make(map[string]string, s.Len()+other.Len())
	if s != nil {
		for k, v := range s.values {
			merged[k] = v
		}
	}
	if other != nil {
		for k, v := range other.values {
			merged[k] = v
		}
	}
	return &Store{values: merged}
}

// Lookup returns the value for key and whether it was ever set.
func (s *Store) Lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}
