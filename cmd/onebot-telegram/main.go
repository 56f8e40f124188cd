// Copyright 2024-2026 Aiku AI

// Command onebot-telegram is a message relay between OneBot v11 group chats
// and Telegram. Rooms are bound to chats (optionally to a forum topic) in a
// pair directory; messages are converted through a neutral model and sent
// through flood-controlled queues, with replies correlated across platforms.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/onebot-telegram/pkg/bridge"
	"github.com/aiku/onebot-telegram/pkg/bridge/onebotfmt"
	"github.com/aiku/onebot-telegram/pkg/onebot"
	"github.com/aiku/onebot-telegram/pkg/pairs"
	"github.com/aiku/onebot-telegram/pkg/store"
	"github.com/aiku/onebot-telegram/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	writeExample := flag.Bool("example-config", false, "print the example config and exit")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("onebot-telegram %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if *writeExample {
		fmt.Print(bridge.ExampleConfig)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w (generate one with -example-config)", err)
		}
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger().
		Level(cfg.LogLevel())
	exzerolog.SetupDefaults(&log)
	log.Info().
		Str("version", Tag).
		Str("instance_id", cfg.InstanceID).
		Msg("Starting onebot-telegram")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	directory, err := pairs.NewDirectory(ctx, db, cfg.InstanceID, log)
	if err != nil {
		return err
	}

	obClient := onebot.NewClient(cfg.OneBot.URL, cfg.OneBot.AccessToken, log)
	defer obClient.Close()

	tgClient, err := telegram.NewClient(ctx, cfg.Telegram.Token, log)
	if err != nil {
		return err
	}

	b := bridge.New(bridge.Params{
		InstanceID:  cfg.InstanceID,
		Directory:   directory,
		Correlation: db,
		OneBot:      obClient,
		Telegram:    tgClient,
		Materialize: onebotfmt.NewMaterializer(cfg.Media.SharedDir, log),
		MinInterval: time.Duration(cfg.Queue.MinIntervalMS) * time.Millisecond,
		Metrics:     bridge.NewLogCollector(log),
		Log:         log,
	})
	defer b.Close()

	obClient.OnEvent(func(evt *onebot.Event) {
		b.HandleOneBotEvent(ctx, evt)
	})
	tgClient.OnMessage = func(msg *telego.Message) {
		b.HandleTelegramMessage(ctx, msg)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- obClient.Run(ctx) }()
	go func() { errCh <- tgClient.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
