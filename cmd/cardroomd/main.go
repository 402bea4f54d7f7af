// Command cardroomd runs the authoritative poker server: websocket play,
// HTTP discovery, and the SQL chip ledger.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/cardroom/cardroom/internal/auth"
	"github.com/cardroom/cardroom/internal/config"
	"github.com/cardroom/cardroom/internal/ledger"
	"github.com/cardroom/cardroom/internal/metrics"
	"github.com/cardroom/cardroom/internal/registry"
	"github.com/cardroom/cardroom/internal/server"
	"github.com/cardroom/cardroom/internal/session"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var cfg config.Config
	kctx := kong.Parse(&cfg,
		kong.Name("cardroomd"),
		kong.Description("Authoritative multi-table Texas Hold'em server."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(&cfg))
}

func run(cfg *config.Config) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var verifier auth.Verifier
	if cfg.Dev {
		logger.Warn("dev mode: accepting mock auth tickets")
		verifier = auth.MockVerifier{}
	} else {
		verifier = auth.NewSteamVerifier(cfg.SteamAPIKey, cfg.SteamAppID, logger)
	}

	clock := quartz.NewReal()
	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	var reg *registry.Registry
	sessions := session.NewManager(clock, cfg.SessionGrace, logger, met.SessionsActive, func(player, tableID string) {
		reg.SessionExpired(player, tableID)
	})
	reg = registry.New(clock, store, sessions, met, cfg.SocialTickHz, logger)

	tables, err := cfg.LoadTables()
	if err != nil {
		return err
	}
	for _, tcfg := range tables {
		if err := reg.Create(ctx, tcfg); err != nil {
			return err
		}
	}
	logger.Info("tables ready", "count", len(tables))

	srv := server.New(cfg.Addr, cfg.DefaultBuyIn, verifier, store, sessions, reg, promReg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}
