package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookSender posts messages as JSON to a fixed URL.
// Unless private targets are allowed, hosts resolving to loopback, private
// or link-local addresses are rejected before each send.
type WebhookSender struct {
	url          string
	allowPrivate bool
	httpClient   *http.Client
	lookupHost   func(host string) ([]string, error)
}

// NewWebhookSender validates rawURL and creates a sender.
func NewWebhookSender(rawURL string, allowPrivate bool) (*WebhookSender, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("webhook URL %q has no host", rawURL)
	}
	return &WebhookSender{
		url:          rawURL,
		allowPrivate: allowPrivate,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			// A redirect could point at an internal host.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		lookupHost: net.LookupHost,
	}, nil
}

func (s *WebhookSender) Type() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, msg *Message) error {
	if !s.allowPrivate {
		if err := s.checkPublic(); err != nil {
			return fmt.Errorf("webhook URL rejected: %w", err)
		}
	}

	body, err := json.Marshal(map[string]any{
		"subject":  msg.Subject,
		"body":     msg.Body,
		"metadata": msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "credresolve-webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// checkPublic resolves the target host and rejects internal addresses.
func (s *WebhookSender) checkPublic() error {
	u, err := url.Parse(s.url)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" {
		return fmt.Errorf("loopback host not allowed")
	}

	ips, err := s.lookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", host, err)
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("internal address %s not allowed", raw)
		}
	}
	return nil
}
