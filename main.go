package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/flowwatch/internal/config"
	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/handlers"
	"github.com/gluk-w/flowwatch/internal/logging"
	"github.com/gluk-w/flowwatch/internal/poller"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
	"github.com/rs/zerolog/log"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatal().Err(err).Msg("database init")
	}
	defer database.Close()

	opts := sshproxy.DefaultOptions()
	opts.IdleTimeout = config.Cfg.TunnelIdleTimeout
	tunnelMgr := sshproxy.NewManager(opts)
	handlers.Tunnels = tunnelMgr

	if path := config.Cfg.InstancesFile; path != "" {
		if err := importInstances(path, tunnelMgr); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("import instances")
		}
	}

	syncer := poller.New(tunnelMgr, poller.Options{
		Interval: config.Cfg.PollInterval,
		Backfill: config.Cfg.InitialBackfill,
	})
	handlers.Syncer = syncer
	if err := syncer.Start(); err != nil {
		log.Fatal().Err(err).Msg("start poller")
	}

	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           handlers.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-sigCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := syncer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("poller did not stop in time")
	}
	tunnelMgr.Shutdown()
	log.Info().Msg("server stopped")
}
