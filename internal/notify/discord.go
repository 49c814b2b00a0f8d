package notify

import (
	"context"
	"net/http"
)

// embedColor is the sidebar colour of ledger alerts.
const embedColor = 0x2f80ed

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts title and message as an embed. Mentions in market questions are
// never resolved.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{Embeds: []discordEmbed{{Title: title, Description: message, Color: embedColor}}}
	msg.AllowedMentions.Parse = []string{}
	return postJSON(ctx, d.client, "discord", d.webhookURL, msg)
}

func (d *DiscordSender) Name() string { return "discord" }
