package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the Discord API methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts notifications to a Discord channel.
type DiscordNotifier struct {
	sess      discordSession
	channelID string
}

// NewDiscordNotifier creates a Discord notifier from a bot token and channel ID.
func NewDiscordNotifier(token, channelID string) *DiscordNotifier {
	// discordgo.New only errors on a malformed token prefix, which "Bot "+token
	// never is.
	sess, _ := discordgo.New("Bot " + token)
	return &DiscordNotifier{sess: sess, channelID: channelID}
}

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	if _, err := d.sess.ChannelMessageSend(d.channelID, Format(n)); err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
