package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ernie/craftwatch/internal/api"
	"github.com/ernie/craftwatch/internal/autoreply"
	"github.com/ernie/craftwatch/internal/config"
	"github.com/ernie/craftwatch/internal/discord"
	"github.com/ernie/craftwatch/internal/logging"
	"github.com/ernie/craftwatch/internal/notify"
	"github.com/ernie/craftwatch/internal/query"
	"github.com/ernie/craftwatch/internal/reconcile"
	"github.com/ernie/craftwatch/internal/storage"
	flag "github.com/spf13/pflag"
)

// cmdServe runs the bot
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if err := config.Validate(cfg); err != nil {
		fatalf("%v", err)
	}

	logger := logging.New(os.Stderr, logging.Options{
		Debug:  cfg.Settings.Logging.Debug,
		Errors: cfg.Settings.Logging.Error,
	})
	slog.SetDefault(logger)

	if err := serve(cfg, logger); err != nil {
		logger.Error("Fatal", "err", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("craftwatch starting", "version", version, "server", cfg.Server.Address(), "type", cfg.Server.Type)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	logger.Info("Database initialized", "path", cfg.Database.Path)

	client, err := query.New(cfg.Status.Source, cfg.Status.APIURL, cfg.Status.QueryTimeout)
	if err != nil {
		return err
	}
	renderer := newRenderer(cfg)
	rest := discord.NewClient("", cfg.Bot.Token, 15*time.Second)
	gateway := discord.NewGateway("", cfg.Bot.Token, logger.With("component", "gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sinks notify.Multi
	var hub *api.Hub
	if cfg.HTTP.Enabled {
		hub = api.NewHub(logger.With("component", "ws"))
		sinks = append(sinks, hub)
	}
	if cfg.NATS.URL != "" {
		pub, err := notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject, logger.With("component", "nats"))
		if err != nil {
			logger.Warn("NATS unavailable, events will not be published", "err", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
			logger.Info("Publishing events to NATS", "subject", cfg.NATS.Subject)
		}
	}

	ports := reconcile.Ports{Refs: store, Editor: rest, Sink: sinks}
	if cfg.Bot.Presence.Enabled {
		ports.Presence = gateway
	}
	loop, err := reconcile.New(loopConfig(cfg), client, renderer, ports, logger.With("component", "loop"))
	if err != nil {
		return err
	}

	responder := autoreply.New(autoreply.ConfigFrom(cfg), autoreply.MatcherFrom(cfg), renderer, client, rest,
		logger.With("component", "autoreply"))
	gateway.OnMessage(func(m discord.Message) {
		responder.Handle(ctx, autoreply.Message{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			Content:   m.Content,
			AuthorBot: m.Author.Bot,
		})
	})

	gatewayErr := make(chan error, 1)
	go func() {
		gatewayErr <- gateway.Run(ctx)
	}()

	if cfg.Status.Enabled {
		go loop.Run(ctx)
		logger.Info("Status loop started", "interval", cfg.Status.Interval, "source", cfg.Status.Source)
	} else {
		logger.Info("Status loop disabled")
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		router := api.NewRouter(loop, store, hub, renderer.Static(), logger.With("component", "api"))
		router.StartHub(ctx)

		addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
		server = &http.Server{
			Addr:         addr,
			Handler:      router.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-gatewayErr:
		if err != nil {
			runErr = err
		}
	}

	if server != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := server.Shutdown(httpCtx); err != nil {
			logger.Warn("HTTP server shutdown error", "err", err)
		}
	}

	cancel()
	logger.Info("Shutdown complete")
	return runErr
}
