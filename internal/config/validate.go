package config

import (
	"fmt"
	"strings"

	"github.com/ernie/craftwatch/internal/render"
)

const tokenPlaceholder = "your-bot-token-here"

// ValidationError lists every problem found in a configuration.
// It is fatal at startup.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

type checker struct {
	problems []string
}

func (c *checker) check(failed bool, format string, args ...any) {
	if failed {
		c.problems = append(c.problems, fmt.Sprintf(format, args...))
	}
}

func (c *checker) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: c.problems}
}

// ValidateServer checks only what is needed to query the server.
// It MUST NOT mutate configuration.
func ValidateServer(cfg *Config) error {
	c := &checker{}
	checkServer(c, cfg)
	return c.err()
}

// Validate checks the full configuration used by the bot.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	c := &checker{}

	c.check(cfg.Bot.Token == "" || strings.HasPrefix(cfg.Bot.Token, tokenPlaceholder),
		"bot token is missing or still the placeholder")
	c.check(!cfg.Bot.Presence.Status.Online.Valid() || !cfg.Bot.Presence.Status.Offline.Valid(),
		"invalid bot status options %q/%q, should be online, idle, dnd or invisible",
		cfg.Bot.Presence.Status.Online, cfg.Bot.Presence.Status.Offline)
	c.check(cfg.Bot.Presence.Activity.Code() < 0,
		"invalid bot activity %q, should be Playing, Listening, Watching or Competing",
		cfg.Bot.Presence.Activity)

	checkServer(c, cfg)

	c.check(cfg.Status.Interval <= 0, "status.interval must be > 0")
	c.check(cfg.Status.OfflineAfter < 0, "status.offline_after must be >= 0")

	templates := []struct{ key, text string }{
		{"bot.presence.text.online", cfg.Bot.Presence.Text.Online},
		{"bot.presence.text.offline", cfg.Bot.Presence.Text.Offline},
		{"auto_reply.ip.reply_text", cfg.AutoReply.IP.ReplyText},
		{"auto_reply.site.reply_text", cfg.AutoReply.Site.ReplyText},
		{"auto_reply.version.reply_text", cfg.AutoReply.Version.ReplyText},
		{"auto_reply.status.online_reply", cfg.AutoReply.Status.OnlineReply},
		{"auto_reply.status.offline_reply", cfg.AutoReply.Status.OfflineReply},
		{"status.error_reply", cfg.Status.ErrorReply},
		{"embed.title", cfg.Embed.Title},
		{"embed.online_description", cfg.Embed.OnlineDescription},
		{"embed.offline_description", cfg.Embed.OfflineDescription},
		{"embed.footer", cfg.Embed.Footer},
	}
	for _, t := range templates {
		if err := render.CheckTemplate(t.text); err != nil {
			c.problems = append(c.problems, fmt.Sprintf("%s: %v", t.key, err))
		}
	}

	if cfg.AutoReply.Enabled {
		checkCategory(c, "ip", cfg.AutoReply.IP.TriggerWords, cfg.AutoReply.IP.ReplyText)
		checkCategory(c, "site", cfg.AutoReply.Site.TriggerWords, cfg.AutoReply.Site.ReplyText)
		checkCategory(c, "version", cfg.AutoReply.Version.TriggerWords, cfg.AutoReply.Version.ReplyText)
		if len(cfg.AutoReply.Status.TriggerWords) > 0 {
			c.check(cfg.AutoReply.Status.OnlineReply == "" || cfg.AutoReply.Status.OfflineReply == "",
				"auto_reply.status needs both online_reply and offline_reply")
		}
	}

	c.check(cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535),
		"http.port %d is out of range", cfg.HTTP.Port)

	return c.err()
}

func checkServer(c *checker, cfg *Config) {
	c.check(cfg.Server.IP == "", "the Minecraft server's IP address has not been specified")
	c.check(!cfg.Server.Type.Valid(), "invalid Minecraft server type %q, should be java or bedrock", cfg.Server.Type)
	c.check(cfg.Server.Name == "", "the Minecraft server's name has not been specified")
	c.check(cfg.Server.Version == "", "the Minecraft server's version has not been specified")
	c.check(cfg.Server.Port < 0 || cfg.Server.Port > 65535, "server.port %d is out of range", cfg.Server.Port)
	c.check(cfg.Status.Source != SourceMCStatus && cfg.Status.Source != SourceDirect,
		"invalid status.source %q, should be mcstatus or direct", cfg.Status.Source)
	c.check(!cfg.Status.OnlineCheck.Valid(),
		"invalid status.online_check %q, should be strict or raw", cfg.Status.OnlineCheck)
	c.check(cfg.Status.QueryTimeout <= 0, "status.query_timeout must be > 0")
}

func checkCategory(c *checker, name string, words []string, reply string) {
	if len(words) == 0 {
		return
	}
	c.check(reply == "", "auto_reply.%s has trigger words but no reply_text", name)
	for _, w := range words {
		c.check(strings.TrimSpace(w) == "", "auto_reply.%s contains an empty trigger word", name)
	}
}
