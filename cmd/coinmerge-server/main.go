package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coinmerge/coinmerge/internal/api"
	"github.com/coinmerge/coinmerge/internal/auth"
	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/config"
	"github.com/coinmerge/coinmerge/internal/feed"
	"github.com/coinmerge/coinmerge/internal/leaderboard"
	"github.com/coinmerge/coinmerge/internal/payout"
	"github.com/coinmerge/coinmerge/internal/prizepool"
	"github.com/coinmerge/coinmerge/internal/secrets"
	"github.com/coinmerge/coinmerge/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)
	if err := run(logger); err != nil {
		logger.Fatalf("server_failed error=%v", err)
	}
}

func run(logger *log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	keys := secrets.NewStore(cfg.SecretsService, cfg.SecretsProfile, cfg.SecretsFallback)
	adminKey, err := keys.Resolve(secrets.AdminKey, cfg.AdminKey)
	if err != nil {
		return err
	}
	relayToken, err := keys.Resolve(secrets.RelayToken, cfg.RelayToken)
	if err != nil {
		return err
	}
	if adminKey == "" {
		logger.Printf("admin_disabled reason=no_admin_key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	hub := feed.NewHub()
	board := leaderboard.New(db, leaderboard.Config{
		PracticeDailyLimit: cfg.Game.PracticeDailyLimit,
		StrictReplay:       cfg.Game.StrictReplay,
		Schedule:           schedule,
		DefaultLimit:       50,
		MaxLimit:           100,
	}, leaderboard.WithPublisher(hub))

	deps := api.Deps{
		Store:          db,
		Leaderboard:    board,
		Catalog:        coins.Default,
		BaseOverlay:    cfg.Game.Overlay,
		AdminKey:       adminKey,
		Feed:           hub,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      rate.Limit(cfg.RateLimit),
		RateBurst:      cfg.RateBurst,
	}
	if cfg.RelayURL != "" {
		relay := prizepool.NewClient(prizepool.Config{BaseURL: cfg.RelayURL, Token: relayToken})
		payouts, err := payout.New(db, relay, board, schedule, cfg.Shares())
		if err != nil {
			return err
		}
		deps.Pool = relay
		deps.Payouts = payouts
	} else {
		logger.Printf("payouts_disabled reason=no_relay_url")
	}
	if cfg.AuthURL != "" {
		deps.Verifier = auth.NewRemoteVerifier(auth.RemoteConfig{URL: cfg.AuthURL})
	} else {
		logger.Printf("auth_mode=dev warning=\"tokens are not verified\"")
		deps.Verifier = auth.DevVerifier{}
	}

	server := api.NewServer(deps)
	if err := server.SyncOverlay(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.SecurityLogger().LogSystemStartup(cfg.Addr, map[string]interface{}{
		"db_driver": cfg.DBDriver,
		"auth_dev":  cfg.AuthURL == "",
		"payouts":   cfg.RelayURL != "",
		"period":    board.CurrentPeriod(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening addr=%s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	server.SecurityLogger().LogSystemShutdown("signal", server.Uptime())
	return err
}
