package render

import (
	"strings"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/status"
)

// View builds the full status embed for the persisted message
func (r *Renderer) View(snap domain.Snapshot) domain.Embed {
	values := r.Values(&snap)
	at := snap.ObservedAt.UTC()

	embed := domain.Embed{
		Title:     Fill(r.style.Title, values),
		Timestamp: &at,
	}
	if strings.HasPrefix(r.static.Site, "http://") || strings.HasPrefix(r.static.Site, "https://") {
		embed.URL = r.static.Site
	}
	if r.style.Thumbnail != "" {
		embed.Thumbnail = &domain.EmbedImage{URL: r.style.Thumbnail}
	}
	if r.style.Footer != "" {
		embed.Footer = &domain.EmbedFooter{Text: Fill(r.style.Footer, values)}
	}

	address := Unknown
	if r.static.IP != "" {
		address = "`" + r.static.Address() + "`"
	}
	version := values["version"]
	if version == "" {
		version = Unknown
	}

	if !snap.Online {
		embed.Description = Fill(r.style.OfflineDescription, values)
		embed.Color = r.style.ColorOffline
		embed.Fields = []domain.EmbedField{
			{Name: "Status", Value: "❌ Offline", Inline: true},
			{Name: "Address", Value: address, Inline: true},
		}
		return embed
	}

	embed.Description = Fill(r.style.OnlineDescription, values)
	embed.Color = r.style.ColorOnline
	embed.Fields = []domain.EmbedField{
		{Name: "Status", Value: "✅ Online", Inline: true},
		{Name: "Version", Value: version, Inline: true},
		{Name: "Address", Value: address, Inline: true},
	}
	embed.Fields = append(embed.Fields, status.PlayerFields(snap.Players)...)
	return embed
}
