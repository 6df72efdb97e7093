package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSender posts messages to one Slack channel with a bot token.
type SlackSender struct {
	token      string
	channel    string
	apiURL     string
	httpClient *http.Client
}

// NewSlackSender creates a Slack sender for channel (an ID such as "C0123").
func NewSlackSender(token, channel string) (*SlackSender, error) {
	if token == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	return &SlackSender{
		token:      token,
		channel:    channel,
		apiURL:     slackPostMessageURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *SlackSender) Type() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	text := msg.Body
	if msg.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Subject, text)
	}
	body, err := json.Marshal(map[string]any{
		"channel": s.channel,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Slack answers 200 for application errors too.
	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err == nil && !slackResp.OK {
		return fmt.Errorf("slack API error: %s", slackResp.Error)
	}
	return nil
}
