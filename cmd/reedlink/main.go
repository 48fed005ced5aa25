package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/reedfamily/reedlink/internal/auth"
	"github.com/reedfamily/reedlink/internal/config"
	"github.com/reedfamily/reedlink/internal/db"
	"github.com/reedfamily/reedlink/internal/logger"
	"github.com/reedfamily/reedlink/internal/server"
)

func main() {
	configPath := flag.String("config", envOr("REEDLINK_CONFIG", "reedlink.yaml"), "path to a YAML or TOML config file")
	newToken := flag.Bool("new-token", false, "print a fresh API token and its bcrypt hash, then exit")
	flag.Parse()

	if *newToken {
		if err := printToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log, os.Stdout)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data dir")
	}
	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	srv, err := server.New(cfg, database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		srv.Stop()
		log.Fatal().Err(err).Msg("failed to start")
	}

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("reedlink listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		zlog.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	srv.Stop()
}

func printToken() error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("token:      %s\ntoken_hash: %s\n", token, hash)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
