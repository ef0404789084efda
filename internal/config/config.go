package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Server    ServerConfig    `yaml:"server"`
	Status    StatusConfig    `yaml:"status"`
	AutoReply AutoReplyConfig `yaml:"auto_reply"`
	Commands  CommandsConfig  `yaml:"commands"`
	Embed     EmbedConfig     `yaml:"embed"`
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      NATSConfig      `yaml:"nats"`
	Settings  SettingsConfig  `yaml:"settings"`
}

// BotConfig holds the chat bot credentials and presence settings
type BotConfig struct {
	Token    string         `yaml:"token"`
	Presence PresenceConfig `yaml:"presence"`
}

// PresenceConfig controls the bot's status indicator
type PresenceConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Status   PresenceStatusPair  `yaml:"status"`
	Activity domain.ActivityKind `yaml:"activity"`
	Text     TextPair            `yaml:"text"`
}

// PresenceStatusPair maps server state to a bot status
type PresenceStatusPair struct {
	Online  domain.PresenceStatus `yaml:"online"`
	Offline domain.PresenceStatus `yaml:"offline"`
}

// TextPair holds one template per server state
type TextPair struct {
	Online  string `yaml:"online"`
	Offline string `yaml:"offline"`
}

// ServerConfig describes the monitored Minecraft server
type ServerConfig struct {
	IP      string         `yaml:"ip"`
	Port    int            `yaml:"port"`
	Type    domain.Variant `yaml:"type"`
	Name    string         `yaml:"name"`
	Version string         `yaml:"version"`
	Site    string         `yaml:"site"`
}

// StatusConfig holds polling settings
type StatusConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Source       string              `yaml:"source"`
	APIURL       string              `yaml:"api_url"`
	OnlineCheck  domain.OnlinePolicy `yaml:"online_check"`
	Interval     time.Duration       `yaml:"interval"`
	QueryTimeout time.Duration       `yaml:"query_timeout"`
	OfflineAfter int                 `yaml:"offline_after"` // 0 = skip failed ticks
	ErrorReply   string              `yaml:"error_reply"`
}

// Status sources
const (
	SourceMCStatus = "mcstatus"
	SourceDirect   = "direct"
)

// AutoReplyConfig holds keyword replies
type AutoReplyConfig struct {
	Enabled bool             `yaml:"enabled"`
	IP      ReplyCategory    `yaml:"ip"`
	Site    ReplyCategory    `yaml:"site"`
	Version ReplyCategory    `yaml:"version"`
	Status  StatusReplyGroup `yaml:"status"`
}

// ReplyCategory is a set of trigger words with one reply template
type ReplyCategory struct {
	TriggerWords []string `yaml:"trigger_words"`
	ReplyText    string   `yaml:"reply_text"`
}

// StatusReplyGroup answers status questions with a live query
type StatusReplyGroup struct {
	TriggerWords []string `yaml:"trigger_words"`
	OnlineReply  string   `yaml:"online_reply"`
	OfflineReply string   `yaml:"offline_reply"`
}

// CommandsConfig holds command routing settings the bot must stay out of
type CommandsConfig struct {
	Prefix string `yaml:"prefix"`
}

// EmbedConfig controls the persisted status message
type EmbedConfig struct {
	Title              string `yaml:"title"`
	OnlineDescription  string `yaml:"online_description"`
	OfflineDescription string `yaml:"offline_description"`
	ColorOnline        int    `yaml:"color_online"`
	ColorOffline       int    `yaml:"color_offline"`
	Thumbnail          string `yaml:"thumbnail"`
	Footer             string `yaml:"footer"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds the status API settings
type HTTPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
}

// NATSConfig holds event publishing settings; an empty URL disables it
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SettingsConfig holds operator settings
type SettingsConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig toggles verbose and error output
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
	Error bool `yaml:"error"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := newConfig()
	applyDerived(cfg)
	return cfg
}

// newConfig returns the decode target: static defaults only. Values that
// depend on other fields are left unset so YAML can still choose them.
func newConfig() *Config {
	cfg := &Config{
		Bot: BotConfig{
			Presence: PresenceConfig{Enabled: true},
		},
		Status:    StatusConfig{Enabled: true},
		AutoReply: AutoReplyConfig{Enabled: true},
		HTTP:      HTTPConfig{Enabled: true},
		Settings:  SettingsConfig{Logging: LoggingConfig{Error: true}},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyDefaults(cfg)
	applyDerived(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Presence.Status.Online == "" {
		cfg.Bot.Presence.Status.Online = domain.StatusOnline
	}
	if cfg.Bot.Presence.Status.Offline == "" {
		cfg.Bot.Presence.Status.Offline = domain.StatusIdle
	}
	if cfg.Bot.Presence.Activity == "" {
		cfg.Bot.Presence.Activity = domain.ActivityPlaying
	}
	if cfg.Bot.Presence.Text.Online == "" {
		cfg.Bot.Presence.Text.Online = "{playerOnline}/{playerMax} players"
	}
	if cfg.Bot.Presence.Text.Offline == "" {
		cfg.Bot.Presence.Text.Offline = "Server offline"
	}

	if cfg.Server.Type == "" {
		cfg.Server.Type = domain.VariantJava
	}

	if cfg.Status.Source == "" {
		cfg.Status.Source = SourceMCStatus
	}
	if cfg.Status.APIURL == "" {
		cfg.Status.APIURL = "https://api.mcstatus.io/v2"
	}
	if cfg.Status.OnlineCheck == "" {
		cfg.Status.OnlineCheck = domain.PolicyStrict
	}
	if cfg.Status.Interval == 0 {
		cfg.Status.Interval = 60 * time.Second
	}
	if cfg.Status.QueryTimeout == 0 {
		cfg.Status.QueryTimeout = 10 * time.Second
	}
	if cfg.Status.ErrorReply == "" {
		cfg.Status.ErrorReply = "I couldn't reach the server right now, try again in a bit."
	}

	if cfg.Commands.Prefix == "" {
		cfg.Commands.Prefix = "!"
	}

	if cfg.Embed.Title == "" {
		cfg.Embed.Title = "{name}"
	}
	if cfg.Embed.OnlineDescription == "" {
		cfg.Embed.OnlineDescription = "{motd}"
	}
	if cfg.Embed.OfflineDescription == "" {
		cfg.Embed.OfflineDescription = "The server is currently offline."
	}
	if cfg.Embed.ColorOnline == 0 {
		cfg.Embed.ColorOnline = 0x57F287
	}
	if cfg.Embed.ColorOffline == 0 {
		cfg.Embed.ColorOffline = 0xED4245
	}
	if cfg.Embed.Footer == "" {
		cfg.Embed.Footer = "Last updated"
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/craftwatch/craftwatch.db"
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "craftwatch.status"
	}
}

// applyDerived fills defaults that depend on decoded values
func applyDerived(cfg *Config) {
	if cfg.Server.Port == 0 && cfg.Server.Type.Valid() {
		cfg.Server.Port = cfg.Server.Type.DefaultPort()
	}
}

// Address returns host:port of the monitored server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}
