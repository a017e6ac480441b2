package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"recruitd.org/internal/analytics"
	"recruitd.org/internal/attribution"
	"recruitd.org/internal/auth"
	"recruitd.org/internal/config"
	"recruitd.org/internal/httpapi"
	"recruitd.org/internal/notify"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/registry"
	"recruitd.org/internal/stations"
	"recruitd.org/internal/store"
	"recruitd.org/internal/store/memory"
	"recruitd.org/internal/store/pg"
	"recruitd.org/internal/tokens"
	"recruitd.org/internal/workflow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	if err := obs.ConfigureLogger(cfg.LogLevel); err != nil {
		obs.Logger().Fatal("configure logger", zap.Error(err))
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	signer, err := auth.NewSigner(cfg.AuthSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatal("auth signer", zap.Error(err))
	}
	reg := registry.New(st)
	engine := workflow.New(st, tokens.NewManager(cfg.ApprovalTokenTTL),
		workflow.WithPublicBaseURL(cfg.PublicBaseURL),
		workflow.WithAdminEmail(cfg.AdminEmail),
	)
	deps := httpapi.Deps{
		Store:     st,
		Auth:      auth.NewService(st, signer, auth.WithCodeIssuer(reg), auth.WithAdminEmails(cfg.AdminEmails...)),
		Registry:  reg,
		Leads:     attribution.New(st),
		Analytics: analytics.New(st, analytics.WithCacheTTL(cfg.AnalyticsCacheTTL)),
		Workflow:  engine,
	}
	probe := httpapi.ReadyProbe{Store: st}
	api := httpapi.New(probe, version, deps, httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond))

	var sender notify.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, 10*time.Second)
	}
	dispatcher := notify.NewDispatcher(st, sender,
		notify.WithBatch(cfg.NotifyBatch),
		notify.WithMaxAttempts(cfg.NotifyMaxAttempts),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(probe).Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error { return dispatcher.Run(gctx, cfg.NotifyPollInterval) })
	g.Go(func() error { return engine.RunReaper(gctx, cfg.ReaperInterval) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("stopped")
}

// openStore connects to PostgreSQL when a DSN is configured. Without one the
// service runs on the in-memory store seeded with the station catalog.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.PGDSN != "" {
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	obs.Logger().Warn("RECRUITD_PG_DSN not set; using in-memory store")
	s := memory.New()
	list, err := stations.Load()
	if err != nil {
		return nil, nil, err
	}
	if _, err := stations.Seed(ctx, s, list); err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}
