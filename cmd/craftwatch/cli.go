package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ernie/craftwatch/internal/config"
	"github.com/ernie/craftwatch/internal/discord"
	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/query"
	"github.com/ernie/craftwatch/internal/status"
	"github.com/ernie/craftwatch/internal/storage"
	flag "github.com/spf13/pflag"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5DADE2"))
	onlineStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2ECC71"))
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7F8C8D"))
	columnStyle  = lipgloss.NewStyle().PaddingRight(4)
)

// cmdStatus queries the server once and prints the result
func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	asJSON := fs.Bool("json", false, "print the snapshot as JSON")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if err := config.ValidateServer(cfg); err != nil {
		fatalf("%v", err)
	}

	client, err := query.New(cfg.Status.Source, cfg.Status.APIURL, cfg.Status.QueryTimeout)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Status.QueryTimeout)
	defer cancel()
	raw, err := client.Query(ctx, cfg.Server.IP, cfg.Server.Port, cfg.Server.Type)
	if err != nil {
		fatalf("querying %s: %v", cfg.Server.Address(), err)
	}
	snap := status.Normalize(raw, cfg.Status.OnlineCheck, time.Now())

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snap)
		return
	}
	fmt.Println(formatStatus(cfg, snap))
}

// formatStatus renders a snapshot for the terminal, players in the same
// three columns as the status message
func formatStatus(cfg *config.Config, snap domain.Snapshot) string {
	lines := []string{titleStyle.Render(cfg.Server.Name) + " " + mutedStyle.Render(cfg.Server.Address())}

	if !snap.Online {
		lines = append(lines, offlineStyle.Render("OFFLINE"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	state := onlineStyle.Render("ONLINE") + fmt.Sprintf("  %d/%d players", snap.Players.Online, snap.Players.Max)
	if snap.Raw.Version != "" {
		state += mutedStyle.Render("  " + snap.Raw.Version)
	}
	lines = append(lines, state)
	if motd := strings.TrimSpace(snap.Raw.MOTD); motd != "" {
		lines = append(lines, mutedStyle.Render(motd))
	}

	groups := status.GroupPlayers(snap.Players.Roster)
	if len(groups) > 0 {
		columns := make([]string, len(groups))
		for i, g := range groups {
			columns[i] = columnStyle.Render(strings.Join(g, "\n"))
		}
		lines = append(lines, "", lipgloss.JoinHorizontal(lipgloss.Top, columns...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// cmdCheck validates the configuration and lists every problem
func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if err := config.Validate(cfg); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(os.Stderr, offlineStyle.Render(fmt.Sprintf("%d problem(s) in %s:", len(verr.Problems), *configPath)))
			for _, p := range verr.Problems {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}
			os.Exit(1)
		}
		fatalf("%v", err)
	}
	fmt.Println(onlineStyle.Render("Configuration OK"))
}

// cmdMessage manages the status message reference
func cmdMessage(args []string) {
	fs := flag.NewFlagSet("message", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Println("Usage: craftwatch message <show|set|post|import|clear> [args]")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fatalf("opening database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sub, subArgs := rest[0], rest[1:]

	switch sub {
	case "show":
		ref, updatedAt, ok, err := store.GetMessageRef(ctx, storage.StatusMessage)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fmt.Println("No status message configured")
			return
		}
		fmt.Printf("channel %s, message %s (updated %s)\n", ref.ChannelID, ref.MessageID, updatedAt.Local().Format("2006-01-02 15:04"))

	case "set":
		if len(subArgs) != 2 {
			fatalf("usage: craftwatch message set <channel> <message>")
		}
		ref := domain.MessageRef{ChannelID: subArgs[0], MessageID: subArgs[1]}
		if err := store.SetMessageRef(ctx, storage.StatusMessage, ref); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Status message set to %s/%s\n", ref.ChannelID, ref.MessageID)

	case "post":
		if len(subArgs) != 1 {
			fatalf("usage: craftwatch message post <channel>")
		}
		if err := config.Validate(cfg); err != nil {
			fatalf("%v", err)
		}
		ref, err := postStatusMessage(ctx, cfg, subArgs[0])
		if err != nil {
			fatalf("%v", err)
		}
		if err := store.SetMessageRef(ctx, storage.StatusMessage, ref); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Posted status message %s in channel %s\n", ref.MessageID, ref.ChannelID)

	case "import":
		if len(subArgs) != 1 {
			fatalf("usage: craftwatch message import <data.json>")
		}
		ref, err := store.ImportJSON(ctx, subArgs[0])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Imported status message %s/%s\n", ref.ChannelID, ref.MessageID)

	case "clear":
		existed, err := store.ClearMessageRef(ctx, storage.StatusMessage)
		if err != nil {
			fatalf("%v", err)
		}
		if existed {
			fmt.Println("Status message cleared")
		} else {
			fmt.Println("No status message configured")
		}

	default:
		fatalf("unknown message command: %s", sub)
	}
}

// postStatusMessage posts a fresh status view, offline if the server
// cannot be queried right now
func postStatusMessage(ctx context.Context, cfg *config.Config, channelID string) (domain.MessageRef, error) {
	client, err := query.New(cfg.Status.Source, cfg.Status.APIURL, cfg.Status.QueryTimeout)
	if err != nil {
		return domain.MessageRef{}, err
	}

	snap := domain.OfflineSnapshot(cfg.Server.Type, time.Now())
	qctx, cancel := context.WithTimeout(ctx, cfg.Status.QueryTimeout)
	raw, err := client.Query(qctx, cfg.Server.IP, cfg.Server.Port, cfg.Server.Type)
	cancel()
	if err == nil {
		snap = status.Normalize(raw, cfg.Status.OnlineCheck, time.Now())
	} else {
		fmt.Fprintf(os.Stderr, "Warning: %v, posting offline status\n", err)
	}

	rest := discord.NewClient("", cfg.Bot.Token, 15*time.Second)
	return rest.CreateMessage(ctx, channelID, newRenderer(cfg).View(snap))
}
