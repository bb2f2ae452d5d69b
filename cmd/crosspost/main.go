package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/bluesky"
	"github.com/blackmichael/nostr-crosspost/internal/config"
	"github.com/blackmichael/nostr-crosspost/internal/crosspost"
	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/blackmichael/nostr-crosspost/internal/media"
	"github.com/blackmichael/nostr-crosspost/internal/profile"
	"github.com/blackmichael/nostr-crosspost/internal/relay"
	"github.com/blackmichael/nostr-crosspost/internal/store"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may be set directly.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	var seen domain.SeenStore
	if cfg.Store.Path != "" {
		s, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open seen store: %w", err)
		}
		seen = s
		logger.Info().Str("path", cfg.Store.Path).Msg("using sqlite seen store")
	} else {
		seen = store.NewMemory()
		logger.Warn().Msg("using in-memory seen store, dedup state will not survive a restart")
	}
	defer seen.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Authenticate up front so bad credentials fail at startup, not on the
	// first note.
	client := bluesky.NewClient(cfg.Bluesky.PDS, cfg.Bluesky.Username, cfg.Bluesky.AppPassword)
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("bluesky login: %w", err)
	}
	logger.Info().
		Str("username", cfg.Bluesky.Username).
		Str("did", client.DID()).
		Msg("authenticated with bluesky")

	var verify relay.Verifier
	if cfg.Nostr.VerifySignatures {
		verify = relay.VerifySchnorr
	}

	session := relay.NewSession(relay.Options{
		URL:          cfg.Nostr.Relay,
		Author:       cfg.AuthorKey(),
		Verify:       verify,
		BackoffBase:  cfg.Nostr.BackoffBase,
		BackoffMax:   cfg.Nostr.BackoffMax,
		PingInterval: cfg.Nostr.PingInterval,
		Logger:       logger.With().Str("component", "relay").Logger(),
	})

	var resolver crosspost.MentionResolver
	if cfg.Nostr.ResolveMentions {
		resolver = profile.NewResolver(cfg.Nostr.Relay, logger.With().Str("component", "profile").Logger())
	}

	extractor := media.NewExtractor(logger.With().Str("component", "media").Logger())
	publisher := bluesky.NewPublisher(client, logger.With().Str("component", "bluesky").Logger())
	service := crosspost.NewService(seen, resolver, extractor, publisher,
		logger.With().Str("component", "crosspost").Logger())

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("relay session exited with error")
		}
	}()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- service.Run(ctx, session.Events())
	}()

	logger.Info().
		Str("relay", cfg.Nostr.Relay).
		Str("author", cfg.AuthorNpub()).
		Time("since", session.Start()).
		Msg("crossposter started")

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	cancel()

	// Let an in-flight crosspost finish or fail before exiting.
	<-workerDone
	return nil
}

// newLogger builds the process logger. When a log file is configured, the
// returned closer is its handle; the caller owns closing it.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("parse log level %q: %w", cfg.Log.Level, err)
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	var out io.Writer = console
	var tee io.Closer
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		tee = f
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), tee, nil
}
