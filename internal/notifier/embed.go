package notifier

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pauljones0/free-games-bot/internal/models"
)

const (
	colorNew     = 5763719  // #57F287
	colorUpdated = 16776960 // #FFFF00
	colorEnded   = 15548997 // #ED4245

	maxDescriptionLen = 350
	dateLayout        = "02 Jan 2006 15:04 MST"
)

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedImage struct {
	URL string `json:"url,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Image       *discordEmbedImage  `json:"image,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func formatNotification(n models.Notification, tagline string) discordWebhookPayload {
	return discordWebhookPayload{Embeds: []discordEmbed{formatEmbed(n, tagline)}}
}

func formatEmbed(n models.Notification, tagline string) discordEmbed {
	footer := discordEmbedFooter{Text: "#" + string(n.Source)}

	if n.Kind == models.NotificationEnded {
		return discordEmbed{
			Title:  "🚫 Giveaway ended: " + n.Title,
			URL:    n.PageURL,
			Color:  colorEnded,
			Footer: discordEmbedFooter{Text: footer.Text + " #ended"},
		}
	}

	embed := discordEmbed{
		Title:  "🎮 " + n.Title,
		URL:    n.PageURL,
		Color:  colorNew,
		Footer: footer,
	}
	if n.Kind == models.NotificationUpdated {
		embed.Color = colorUpdated
	}
	if n.ImageURL != "" {
		embed.Image = &discordEmbedImage{URL: n.ImageURL}
	}
	if !n.StartDate.IsZero() {
		embed.Timestamp = n.StartDate.Format(time.RFC3339)
	}

	var desc []string
	if tagline != "" {
		desc = append(desc, "*"+tagline+"*")
	}
	if n.Description != "" {
		desc = append(desc, truncate(n.Description, maxDescriptionLen))
	}
	embed.Description = strings.Join(desc, "\n\n")

	embed.Fields = append(embed.Fields, discordEmbedField{Name: "Status", Value: statusLabel(n.Status), Inline: true})
	if period := formatPeriod(n.StartDate, n.EndDate); period != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Period", Value: period, Inline: true})
	}
	if n.Publisher != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Publisher", Value: n.Publisher, Inline: true})
	}
	if prices := formatPrices(n.Prices, n.DiscountPercent); prices != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Price", Value: prices})
	}
	if len(n.Regions) > 0 {
		regions := make([]string, 0, len(n.Regions))
		for _, r := range n.Regions {
			regions = append(regions, string(r))
		}
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Available in", Value: strings.Join(regions, ", "), Inline: true})
	}
	if n.PostType == models.PostTypeManual {
		embed.Footer.Text += " #manual"
	}
	return embed
}

func statusLabel(s models.Status) string {
	switch s {
	case models.StatusActive:
		return "Free now"
	case models.StatusUpcoming:
		return "Coming soon"
	}
	return string(s)
}

func formatPeriod(start, end time.Time) string {
	switch {
	case start.IsZero() && end.IsZero():
		return ""
	case end.IsZero():
		return "from " + start.UTC().Format(dateLayout)
	case start.IsZero():
		return "until " + end.UTC().Format(dateLayout)
	}
	return start.UTC().Format(dateLayout) + " – " + end.UTC().Format(dateLayout)
}

func formatPrices(p models.Prices, discount int) string {
	if len(p) == 0 {
		return ""
	}
	currencies := make([]string, 0, len(p))
	for c := range p {
		currencies = append(currencies, c)
	}
	slices.Sort(currencies)

	lines := make([]string, 0, len(currencies))
	for _, c := range currencies {
		e := p[c]
		line := fmt.Sprintf("%s: ~~%.2f~~ %.2f", c, e.Original, e.Current)
		if discount > 0 {
			line += fmt.Sprintf(" (-%d%%)", discount)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
