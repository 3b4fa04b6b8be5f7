package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts to one Slack channel over the Web API.
type Slack struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack sender.
type SlackOpts struct {
	Token     string // xoxb-... bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack sender.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: slack: channel id is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

// Notify implements Sender.
func (s *Slack) Notify(ctx context.Context, subject, body string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText(fmt.Sprintf("*%s*\n%s", subject, body), false))
	if err != nil {
		return fmt.Errorf("notify: slack: post message: %w", err)
	}
	return nil
}
