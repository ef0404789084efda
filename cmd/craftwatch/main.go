// craftwatch - Minecraft server status for Discord
package main

import (
	"fmt"
	"os"

	"github.com/ernie/craftwatch/internal/config"
	"github.com/ernie/craftwatch/internal/reconcile"
	"github.com/ernie/craftwatch/internal/render"
)

var version = "dev"

const defaultConfigPath = "/etc/craftwatch/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "message":
		cmdMessage(os.Args[2:])
	case "version":
		fmt.Printf("craftwatch %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: craftwatch <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Run the bot")
	fmt.Println("  status [--json]                     Query the server once and print its status")
	fmt.Println("  check                               Validate the configuration")
	fmt.Println("  message show                        Show the status message reference")
	fmt.Println("  message set <channel> <message>     Set the status message reference")
	fmt.Println("  message post <channel>              Post a new status message and remember it")
	fmt.Println("  message import <data.json>          Import a reference from a legacy data file")
	fmt.Println("  message clear                       Forget the status message")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/craftwatch/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  craftwatch check --config ./config.yml")
	fmt.Println("  craftwatch serve --config ./config.yml")
	fmt.Println("  craftwatch message post 123456789012345678")
	fmt.Println("  craftwatch status --json")
}

// loadConfig loads the config file or exits
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if path == defaultConfigPath {
			fmt.Fprintln(os.Stderr, "Use --config to specify a config file.")
		}
		os.Exit(1)
	}
	return cfg
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func newRenderer(cfg *config.Config) *render.Renderer {
	return render.New(
		render.Static{
			IP:      cfg.Server.IP,
			Port:    cfg.Server.Port,
			Site:    cfg.Server.Site,
			Version: cfg.Server.Version,
			Name:    cfg.Server.Name,
		},
		render.Templates{
			IP:              cfg.AutoReply.IP.ReplyText,
			Site:            cfg.AutoReply.Site.ReplyText,
			Version:         cfg.AutoReply.Version.ReplyText,
			StatusOnline:    cfg.AutoReply.Status.OnlineReply,
			StatusOffline:   cfg.AutoReply.Status.OfflineReply,
			PresenceOnline:  cfg.Bot.Presence.Text.Online,
			PresenceOffline: cfg.Bot.Presence.Text.Offline,
		},
		render.EmbedStyle{
			Title:              cfg.Embed.Title,
			OnlineDescription:  cfg.Embed.OnlineDescription,
			OfflineDescription: cfg.Embed.OfflineDescription,
			ColorOnline:        cfg.Embed.ColorOnline,
			ColorOffline:       cfg.Embed.ColorOffline,
			Thumbnail:          cfg.Embed.Thumbnail,
			Footer:             cfg.Embed.Footer,
		},
	)
}

func loopConfig(cfg *config.Config) reconcile.Config {
	return reconcile.Config{
		Host:          cfg.Server.IP,
		Port:          cfg.Server.Port,
		Variant:       cfg.Server.Type,
		Policy:        cfg.Status.OnlineCheck,
		Interval:      cfg.Status.Interval,
		QueryTimeout:  cfg.Status.QueryTimeout,
		OfflineAfter:  cfg.Status.OfflineAfter,
		OnlineStatus:  cfg.Bot.Presence.Status.Online,
		OfflineStatus: cfg.Bot.Presence.Status.Offline,
		Activity:      cfg.Bot.Presence.Activity,
	}
}
