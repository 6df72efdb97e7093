package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// HashiCorpConfig configures a HashiCorp Vault KV v2 client.
type HashiCorpConfig struct {
	Address       string        // Vault server URL (overridden by VAULT_ADDR env var).
	Token         string        // Vault token (overridden by VAULT_TOKEN env var).
	Namespace     string        // Enterprise namespace (overridden by VAULT_NAMESPACE env var).
	Mount         string        // KV v2 mount. Default: "secret".
	Path          string        // Secret path under the mount; each field is one secret.
	Timeout       time.Duration // HTTP timeout. Default: 5s.
	TLSSkipVerify bool
}

// HashiCorpClient reads fields of a single KV v2 secret.
// GET {address}/v1/{mount}/data/{path} returns a data map; each requested
// name is a field of that map. Uses token authentication.
// Safe for concurrent use.
type HashiCorpClient struct {
	address   string
	token     string
	namespace string
	mount     string
	path      string
	client    *http.Client
}

// NewHashiCorpClient creates a KV v2 client. Environment variables
// VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE take precedence over cfg.
func NewHashiCorpClient(cfg HashiCorpConfig) (*HashiCorpClient, error) {
	address := cfg.Address
	if env := os.Getenv("VAULT_ADDR"); env != "" {
		address = env
	}
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set vault.hashicorp.address or VAULT_ADDR)")
	}
	address = strings.TrimRight(address, "/")

	token := cfg.Token
	if env := os.Getenv("VAULT_TOKEN"); env != "" {
		token = env
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set vault.hashicorp.token or VAULT_TOKEN)")
	}

	namespace := cfg.Namespace
	if env := os.Getenv("VAULT_NAMESPACE"); env != "" {
		namespace = env
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	path := strings.Trim(cfg.Path, "/")
	if path == "" {
		return nil, fmt.Errorf("vault secret path is required (set vault.hashicorp.path)")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HashiCorpClient{
		address:   address,
		token:     token,
		namespace: namespace,
		mount:     mount,
		path:      path,
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (c *HashiCorpClient) Kind() string { return "hashicorp" }

// GetSecret reads the secret document and returns field name.
func (c *HashiCorpClient) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", &NotFoundError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("empty field name")}
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s", c.address, c.mount, c.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("building vault request: %w", err)}
	}
	req.Header.Set("X-Vault-Token", c.token)
	if c.namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.namespace)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("vault request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("reading vault response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &NotFoundError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("vault path %q not found", c.path)}
	case resp.StatusCode == http.StatusForbidden:
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(),
			Err: fmt.Errorf("vault access denied for path %q (check token permissions)", c.path)}
	case resp.StatusCode >= 500:
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(),
			Err: fmt.Errorf("vault server error %d for path %q", resp.StatusCode, c.path)}
	case resp.StatusCode != http.StatusOK:
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(),
			Err: fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, c.path)}
	}

	// KV v2 envelope: { "data": { "data": { ... }, "metadata": { ... } } }
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("parsing vault response: %w", err)}
	}

	data := envelope.Data.Data
	if data == nil {
		return "", &NotFoundError{Name: name, Backend: c.Kind(), Err: fmt.Errorf("vault path %q returned no data", c.path)}
	}
	val, ok := data[name]
	if !ok {
		return "", &NotFoundError{Name: name, Backend: c.Kind()}
	}
	str, ok := val.(string)
	if !ok {
		return "", &NotFoundError{Name: name, Backend: c.Kind(),
			Err: fmt.Errorf("vault field %q in path %q is %T, not a string", name, c.path, val)}
	}
	return str, nil
}
