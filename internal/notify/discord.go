package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to one Discord channel over the REST API. No Gateway
// connection is opened; a bot token authorizes plain message sends.
type Discord struct {
	sess      session
	channelID string
}

// DiscordOpts holds parameters for creating a Discord sender.
type DiscordOpts struct {
	Token     string // Discord bot token
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// NewDiscord creates a Discord sender.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("notify: discord: create session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, channelID: opts.ChannelID}, nil
}

// Notify implements Sender.
func (d *Discord) Notify(ctx context.Context, subject, body string) error {
	content := fmt.Sprintf("**%s**\n%s", subject, body)
	if _, err := d.sess.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: send message: %w", err)
	}
	return nil
}
