package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackNotifier posts notifications to a Slack channel.
type SlackNotifier struct {
	client  slackClient
	channel string
}

// NewSlackNotifier creates a Slack notifier from a bot token and channel ID.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slackapi.New(botToken),
		channel: channel,
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	_, _, err := s.client.PostMessage(s.channel,
		slackapi.MsgOptionText(Format(n), false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
