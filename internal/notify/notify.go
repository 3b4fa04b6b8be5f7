// Package notify posts task-failure alerts to chat platforms. Senders are
// fire-and-forget: a delivery failure is logged by the caller, never fatal.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/mbellotti/testyard/internal/config"
)

// Sender delivers one alert to a single destination.
type Sender interface {
	Notify(ctx context.Context, subject, body string) error
}

// Fanout delivers each alert to every configured sender and reports the
// first error after trying all of them.
type Fanout struct {
	senders []Sender
}

// NewFanout creates a Fanout over the given senders. Nil senders are skipped.
func NewFanout(senders ...Sender) *Fanout {
	f := &Fanout{}
	for _, s := range senders {
		if s != nil {
			f.senders = append(f.senders, s)
		}
	}
	return f
}

// Len returns the number of configured senders.
func (f *Fanout) Len() int { return len(f.senders) }

// Notify implements Sender.
func (f *Fanout) Notify(ctx context.Context, subject, body string) error {
	var firstErr error
	for _, s := range f.senders {
		if err := s.Notify(ctx, subject, body); err != nil {
			log.Printf("notify: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewFromConfig builds a Fanout from config, one sender per platform with
// credentials present. Returns nil when nothing is configured, so callers
// can skip notification wiring entirely.
func NewFromConfig(cfg config.NotifyConfig) (*Fanout, error) {
	var senders []Sender
	if cfg.Slack.BotToken != "" {
		s, err := NewSlack(SlackOpts{Token: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, fmt.Errorf("notify: slack: %w", err)
		}
		senders = append(senders, s)
	}
	if cfg.Discord.BotToken != "" {
		d, err := NewDiscord(DiscordOpts{Token: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, fmt.Errorf("notify: discord: %w", err)
		}
		senders = append(senders, d)
	}
	if len(senders) == 0 {
		return nil, nil
	}
	return NewFanout(senders...), nil
}
