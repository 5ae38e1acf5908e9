package notify

import (
	"context"
	"fmt"
	"net/http"
)

// SlackSender posts to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{webhookURL: webhookURL, client: defaultHTTPClient()}
}

func (s *SlackSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, s.client, s.webhookURL, map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (s *SlackSender) Name() string { return "slack" }
